package submitter

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrSubmission marks failures to build, sign or inject a funding bundle
var ErrSubmission = errors.New("submission error")

// SubmissionResult is the outcome of one funding attempt
type SubmissionResult struct {
	TransactionHash  string
	ResultingBalance int64 // signer balance in the smallest currency unit, -1 on failure
	Succeeded        bool
}

// Failed is the result reported for any unsuccessful submission
var Failed = SubmissionResult{TransactionHash: "", ResultingBalance: -1, Succeeded: false}

type ClaimSubmitter interface {
	// Submit funds address with primaryAmount of the native currency and secondaryAmount
	// of each intermediary token. It never panics; failures return Failed and an
	// error marked with ErrSubmission.
	Submit(ctx context.Context, address string, primaryAmount, secondaryAmount int64) (SubmissionResult, error)
}
