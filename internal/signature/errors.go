package signature

import "fmt"

// CapabilitySignedConfig is the agent-type custom capability that gates
// signature verification: remote configs for agent types that don't
// declare it bypass the verifier entirely.
const CapabilitySignedConfig = "signed_config"

type UnknownKeyID struct{ KeyID string }

func (e *UnknownKeyID) Error() string { return fmt.Sprintf("unknown key id %q", e.KeyID) }

type UnsupportedAlgorithm struct{ Algorithm string }

func (e *UnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("unsupported signature algorithm %q", e.Algorithm)
}

type VerifySignatureError struct{ Detail string }

func (e *VerifySignatureError) Error() string { return fmt.Sprintf("verify signature: %s", e.Detail) }

type FetchCertificateError struct{ Detail string }

func (e *FetchCertificateError) Error() string { return fmt.Sprintf("fetch certificate: %s", e.Detail) }
