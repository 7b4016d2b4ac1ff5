/*
Package security provides the cryptographic primitives a gridrestore cluster
needs for mutual TLS between nodes: a certificate authority, node certificate
issuance and file persistence, and a cluster-encryption-key-derived cipher
for anything that needs to be encrypted at rest (currently the CA's own root
private key).

# Certificate Authority

CertAuthority holds a self-signed root certificate and issues 90-day node
certificates signed by it:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key
	└── Subject: CN=gridrestore Root CA

	Node Certificate
	├── 90-day validity
	├── RSA 2048-bit key
	├── ExtKeyUsage: ServerAuth, ClientAuth
	└── DNS/IP SANs for the node's advertised address

A node's Engine.Start/run RPCs (pkg/transport) all run over mTLS: both sides
present a CA-issued certificate and verify the peer's against the same root,
so only nodes holding a certificate from this cluster's CA can participate
in a restore attempt's Prepare/Preload/CacheStart/IncrementalApply/
CacheStop/Rollback/Finish exchange.

The root CA is created once during cluster initialization (ca.Initialize)
and persisted via SaveToStore/LoadFromStore; its private key is encrypted at
rest with the cluster encryption key (DeriveKeyFromClusterID, Encrypt/
Decrypt in secrets.go). Issued node certificates are cached in memory
(GetCachedCert) and also written to disk under GetCertDir so a restarting
node can reload them with LoadCertFromFile instead of re-requesting one.

# Certificate Rotation

CertNeedsRotation flags a certificate once it has less than 30 days of
validity remaining; callers are expected to call IssueNodeCertificate again
and overwrite the on-disk copy via SaveCertToFile. Automatic rotation is not
implemented here.
*/
package security
