package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertFingerprintStableAcrossMapOrder(t *testing.T) {
	a := AlertFingerprint("disk_full", "node-1", map[string]interface{}{
		"volume": "/var", "threshold": 90, "zone": "us-east",
	})
	for i := 0; i < 20; i++ {
		b := AlertFingerprint("disk_full", "node-1", map[string]interface{}{
			"zone": "us-east", "volume": "/var", "threshold": 90,
		})
		assert.Equal(t, a, b)
	}
}

func TestAlertFingerprintDiscriminates(t *testing.T) {
	base := AlertFingerprint("disk_full", "node-1", nil)

	assert.NotEqual(t, base, AlertFingerprint("disk_full", "node-2", nil))
	assert.NotEqual(t, base, AlertFingerprint("cpu_high", "node-1", nil))
	assert.NotEqual(t, base, AlertFingerprint("disk_full", "node-1", map[string]interface{}{"volume": "/var"}))
	assert.Len(t, base, 64)
}

func TestNormalizeErrorMessage(t *testing.T) {
	cases := map[string]string{
		"connection refused to 10.0.0.5:5432": "connection refused to #.#.#.#:#",
		"user 42817 not found":                "user # not found",
		"no digits here":                      "no digits here",
		"":                                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeErrorMessage(in))
	}
}

func TestErrorFingerprintGroupsDigitVariants(t *testing.T) {
	stack := "main.handleRequest\n\t/app/server.go:42"

	a := ErrorFingerprint("timeout after 30s for user 11", "TimeoutError", "api", stack)
	b := ErrorFingerprint("timeout after 45s for user 99", "TimeoutError", "api", stack)
	assert.Equal(t, a, b)

	c := ErrorFingerprint("timeout after 30s for user 11", "TimeoutError", "worker", stack)
	assert.NotEqual(t, a, c)

	assert.Len(t, a, 16)
}

func TestFirstStackFrame(t *testing.T) {
	assert.Equal(t, "main.run", FirstStackFrame("\n  main.run\n  main.main\n"))
	assert.Equal(t, "", FirstStackFrame("\n   \n"))

	// argument values in the traceback vary per occurrence and must not
	// participate
	assert.Equal(t, "main.handleRequest",
		FirstStackFrame("main.handleRequest(0xc000010250, 0x2)\n\t/app/server.go:42 +0x5e\n"))
	assert.Equal(t, "app/api.(*Server).Serve",
		FirstStackFrame("app/api.(*Server).Serve(0xc0000b6000)\n\t/app/api/server.go:90 +0x1a\n"))
}

func TestErrorFingerprintDiscriminatesCallSites(t *testing.T) {
	a := ErrorFingerprint("connection refused", "net.OpError", "api",
		"app/payments.Charge(0xc000010250)\n\t/app/payments/charge.go:31 +0x5e\n")
	b := ErrorFingerprint("connection refused", "net.OpError", "api",
		"app/billing.Invoice(0xc0000b6000)\n\t/app/billing/invoice.go:88 +0x12\n")
	assert.NotEqual(t, a, b)

	// same call site, different argument values
	c := ErrorFingerprint("connection refused", "net.OpError", "api",
		"app/payments.Charge(0xc000fe1180)\n\t/app/payments/charge.go:31 +0x5e\n")
	assert.Equal(t, a, c)
}
