package envelope

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lenswork/studio-sign/internal/models"
)

// genSignerCount generates a plausible envelope size.
func genSignerCount() gopter.Gen {
	return gen.IntRange(1, 12)
}

// genSignedSet generates, for n signers, which of them have already signed.
func genSignedSet(n int) gopter.Gen {
	return gen.SliceOfN(n, gen.Bool())
}

func sequentialFixture(n int, signed []bool) ([]*models.Signer, []*models.Signature) {
	signers := make([]*models.Signer, n)
	signatures := make([]*models.Signature, n)
	for i := 0; i < n; i++ {
		s := i + 1
		signers[i] = &models.Signer{
			ID:             fmt.Sprintf("signer-%d", i),
			SequenceNumber: &s,
			Status:         models.SignerStatusPending,
		}
		status := models.SignatureStatusPending
		if signed[i] {
			status = models.SignatureStatusSigned
		}
		signatures[i] = &models.Signature{
			SignerID: signers[i].ID,
			Status:   status,
		}
	}
	return signers, signatures
}

func TestParallelWorkflowNeverBlocks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every known signer is allowed regardless of who has signed", prop.ForAll(
		func(n int, pick int) bool {
			signed := make([]bool, n)
			for i := range signed {
				signed[i] = i%2 == 0
			}
			signers, signatures := sequentialFixture(n, signed)
			subject := signers[pick%n]
			return CanSign(models.WorkflowParallel, signers, signatures, subject.ID).Allowed
		},
		genSignerCount(),
		gen.IntRange(0, 11),
	))

	properties.TestingRun(t)
}

func TestSequentialGateMatchesPredecessorRule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("allowed exactly when every strictly smaller sequence has signed", prop.ForAll(
		func(n int, pick int, seed int64) bool {
			signed := make([]bool, n)
			// Deterministic pseudo-random signed set from the seed.
			s := seed
			for i := range signed {
				s = s*6364136223846793005 + 1442695040888963407
				signed[i] = s&1 == 0
			}
			signers, signatures := sequentialFixture(n, signed)
			idx := pick % n
			subject := signers[idx]

			expected := true
			for i := 0; i < idx; i++ {
				if !signed[i] {
					expected = false
					break
				}
			}

			return CanSign(models.WorkflowSequential, signers, signatures, subject.ID).Allowed == expected
		},
		genSignerCount(),
		gen.IntRange(0, 11),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
