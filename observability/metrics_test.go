package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestReasonLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("escrow: caller is not the buyer"), "caller_is_not_the_buyer"},
		{fmt.Errorf("escrow: native transfer failed: %v", errors.New("insufficient balance")), "native_transfer_failed"},
		{errors.New("plain failure"), "plain_failure"},
	}
	for _, tc := range cases {
		if got := reasonLabel(tc.err); got != tc.want {
			t.Fatalf("reasonLabel(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestMetricsSingleton(t *testing.T) {
	first := Metrics()
	second := Metrics()
	if first == nil || first != second {
		t.Fatalf("expected a stable metrics singleton")
	}
	// Observations on either outcome path must not panic.
	first.Observe("create", nil, time.Now())
	first.Observe("create", errors.New("escrow: agreement not found"), time.Now())
}
