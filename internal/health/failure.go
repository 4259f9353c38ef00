package health

// Failure is an error carrying the classification of a failed unit so
// stage executors can count hard failures without string matching.
type Failure struct {
	Outcome Outcome
	Detail  string
}

// NewFailure builds a classified unit failure.
func NewFailure(outcome Outcome, detail string) *Failure {
	return &Failure{Outcome: outcome, Detail: detail}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return f.Outcome.String() + ": " + f.Detail
}
