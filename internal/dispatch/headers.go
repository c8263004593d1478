package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/haasonsaas/kirogate/internal/accounts"
)

// DefaultKiroVersion is the IDE version advertised upstream when the config
// leaves it unset.
const DefaultKiroVersion = "0.8.0"

const sdkInvocationAttempts = "attempt=1; max=3"

// applyUpstreamHeaders sets the full header block the upstream expects on
// every call. machineID comes from the account's credential; a credential
// without one gets a fresh random identity per request.
func applyUpstreamHeaders(req *http.Request, token string, cred accounts.Credential, kiroVersion string) {
	if kiroVersion == "" {
		kiroVersion = DefaultKiroVersion
	}
	machineID := cred.MachineID
	if machineID == "" {
		machineID = randomMachineID()
	}
	ideTag := fmt.Sprintf("KiroIDE-%s-%s", kiroVersion, machineID)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Host = req.URL.Host
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("x-amzn-kiro-agent-mode", "vibe")
	req.Header.Set("x-amz-user-agent", "aws-sdk-js/1.0.27 "+ideTag)
	req.Header.Set("User-Agent",
		"aws-sdk-js/1.0.27 ua/2.1 os/windows lang/js md/nodejs#20.0.0 api/codewhispererstreaming#1.0.27 m/E "+ideTag)
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", sdkInvocationAttempts)
	req.Header.Set("Connection", "close")
}

// randomMachineID mints a 64-character hex identity, matching the shape the
// IDE derives from hardware identifiers.
func randomMachineID() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// rand.Read only fails when the OS entropy source is broken.
		return uuid.NewString()
	}
	return hex.EncodeToString(buf[:])
}
