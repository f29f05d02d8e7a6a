// Package credential resolves endpoint API keys from one of several
// backends. An EndpointConfig.APIKey is either a literal string or a
// reference of the form "env:NAME", "file:path", or "keyring:service/user".
// References are resolved once at startup; the gateway core never sees
// anything but the resolved plaintext key afterward.
package credential
