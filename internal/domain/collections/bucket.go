package collections

// Bucket is a named DPD range used for portfolio risk classification and
// collections prioritization.
type Bucket string

const (
	BucketCurrent Bucket = "current"
	Bucket1To7    Bucket = "1-7"
	Bucket8To15   Bucket = "8-15"
	Bucket16To22  Bucket = "16-22"
	Bucket23To29  Bucket = "23-29"
	Bucket30Plus  Bucket = "30+"
	Bucket60Plus  Bucket = "60+"
	Bucket90Plus  Bucket = "90+"
	Bucket120Plus Bucket = "120+"
)

type LegalStatus string

const (
	LegalStatusNone          LegalStatus = "none"
	LegalStatusNoticePending LegalStatus = "notice_pending"
)

// escalationThresholdDPD is the DPD beyond which a loan is handed to legal.
const escalationThresholdDPD = 90

// BucketForDPD maps days-past-due onto its bucket. The mapping is total:
// every non-negative dpd lands in exactly one bucket, anything past the
// table falls into the terminal "120+" bucket.
func BucketForDPD(dpd int) Bucket {
	switch {
	case dpd < 1:
		return BucketCurrent
	case dpd <= 7:
		return Bucket1To7
	case dpd <= 15:
		return Bucket8To15
	case dpd <= 22:
		return Bucket16To22
	case dpd <= 29:
		return Bucket23To29
	case dpd <= 59:
		return Bucket30Plus
	case dpd <= 89:
		return Bucket60Plus
	case dpd <= 119:
		return Bucket90Plus
	default:
		return Bucket120Plus
	}
}

var bucketRanks = map[Bucket]int{
	BucketCurrent: 0,
	Bucket1To7:    1,
	Bucket8To15:   2,
	Bucket16To22:  3,
	Bucket23To29:  4,
	Bucket30Plus:  5,
	Bucket60Plus:  6,
	Bucket90Plus:  7,
	Bucket120Plus: 8,
}

// Rank returns the bucket's position in the severity ordering. Unknown
// buckets rank as the terminal bucket.
func (b Bucket) Rank() int {
	if r, ok := bucketRanks[b]; ok {
		return r
	}
	return bucketRanks[Bucket120Plus]
}

func (b Bucket) Valid() bool {
	_, ok := bucketRanks[b]
	return ok
}

// ShouldEscalate reports whether crossing into the current dpd triggers a
// legal notice. Escalation is edge-triggered: it fires only when dpd has
// moved past the threshold and the previous bucket was not already at or
// beyond "90+", so a loan escalates exactly once per crossing.
func ShouldEscalate(dpd int, previous Bucket) bool {
	if dpd <= escalationThresholdDPD {
		return false
	}
	return previous != Bucket90Plus && previous != Bucket120Plus
}
