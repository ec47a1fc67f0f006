package reconcilestories

type Input struct {
	UserID string `json:"userId"`
}

type Output struct {
	Reconciled int `json:"reconciled"`
}
