package collections

import "time"

// Record is the denormalized collections snapshot for one loan. It is owned
// and overwritten exclusively by the collections batch job.
type Record struct {
	LoanID      int64
	DPD         int
	Bucket      Bucket
	LegalStatus LegalStatus
	UpdatedAt   time.Time
}
