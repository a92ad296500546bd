package repository

import (
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 10 * time.Millisecond
)

type TxOptions struct {
	// Run tx with SERIALIZABLE isolation level
	Serializable bool

	// How many times tx may be started again on serialization failure or deadlock
	MaxAttempts int

	// Delay before next attempt grows linearly: RetryDelay * attempt
	RetryDelay time.Duration
}

type TxOption func(*TxOptions)

func NewTxOptions(opts ...TxOption) TxOptions {
	o := TxOptions{MaxAttempts: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Serializable tx restarted on conflicts
func Serializable() TxOption {
	return func(o *TxOptions) {
		o.Serializable = true
		o.MaxAttempts = defaultMaxAttempts
		o.RetryDelay = defaultRetryDelay
	}
}

func WithMaxAttempts(n int) TxOption {
	return func(o *TxOptions) {
		if n > 0 {
			o.MaxAttempts = n
		}
	}
}
