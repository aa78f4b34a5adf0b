package models

type Operator struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Created    string  `json:"created"`
	LastActive *string `json:"last_active,omitempty"`
}
