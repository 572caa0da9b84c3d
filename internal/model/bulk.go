package model

// BulkFailure is one failed id of a bulk operation.
type BulkFailure struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// BulkResult reports a bulk operation. Each id is its own atomic unit, so one
// failure never undoes the others.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}
