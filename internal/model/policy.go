package model

// PolicyRule describes one row-level policy as reported by the store,
// for read-only display.
type PolicyRule struct {
	PolicyName          string   `json:"policy_name"`
	Command             string   `json:"command"`
	Roles               []string `json:"roles"`
	UsingExpression     string   `json:"using_expression,omitempty"`
	WithCheckExpression string   `json:"with_check_expression,omitempty"`
}

// PolicyReport groups the active rules by the operation they govern.
type PolicyReport struct {
	Publish   []PolicyRule `json:"publish"`
	Subscribe []PolicyRule `json:"subscribe"`
}
