package types

// Job is the closed set of fulfillment kinds a payment can route to. The
// unexported marker keeps the set sealed to this package.
type Job interface {
	Payment() Payment
	job()
}

type NFTJob struct {
	payment Payment
}

func (j NFTJob) Payment() Payment { return j.payment }
func (NFTJob) job()               {}

type EventJob struct {
	payment Payment
}

func (j EventJob) Payment() Payment { return j.payment }
func (EventJob) job()               {}

// UnsupportedJob carries a payment whose product table has no handler.
type UnsupportedJob struct {
	payment Payment
}

func (j UnsupportedJob) Payment() Payment { return j.payment }
func (UnsupportedJob) job()               {}

func JobFromPayment(p Payment) Job {
	switch p.ProductTable {
	case ProductTableNFTs:
		return NFTJob{payment: p}
	case ProductTableEvents:
		return EventJob{payment: p}
	default:
		return UnsupportedJob{payment: p}
	}
}
