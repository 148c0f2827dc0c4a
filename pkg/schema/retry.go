package schema

// RetryPolicy bounds retries of transient failures (store writes, sync
// connector calls). Backoff is one of none, constant, linear or exponential;
// Delay and MaxDelay are Go duration strings.
type RetryPolicy struct {
	Max      int    `json:"max" mapstructure:"max"`
	Backoff  string `json:"backoff,omitempty" mapstructure:"backoff"`
	Delay    string `json:"delay,omitempty" mapstructure:"delay"`
	MaxDelay string `json:"max_delay,omitempty" mapstructure:"max_delay"`
}
