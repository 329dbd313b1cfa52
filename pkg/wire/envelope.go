// Package wire builds the signed, encrypted message envelopes the remote
// agent node expects on its job API. Long-lived credentials (encryption
// secret key, signature secret key, receiver public key, sender identity)
// are supplied once at construction; every request body is derived from
// them.
package wire

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// EncryptionScheme identifies the body cipher: an X25519 shared secret
// keying XChaCha20-Poly1305.
const EncryptionScheme = "DiffieHellmanChaChaPoly1305"

const (
	SchemaJobCreation = "JobCreationSchema"
	SchemaJobMessage  = "JobMessageSchema"
	SchemaInboxRead   = "APIGetMessagesFromInboxRequest"
)

var ErrBadSignature = errors.New("envelope signature verification failed")

// Envelope is the unit posted to the node. Body is the base64 of
// nonce||ciphertext; the signature in the external metadata covers Body.
type Envelope struct {
	Body       string           `json:"body"`
	Encryption string           `json:"encryption"`
	External   ExternalMetadata `json:"external_metadata"`
}

type ExternalMetadata struct {
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	IntraSender   string `json:"intra_sender"`
	SenderEncPK   string `json:"sender_encryption_pk"`
	ScheduledTime string `json:"scheduled_time"`
	Signature     string `json:"signature"`
}

// Payload is the plaintext carried inside an envelope body.
type Payload struct {
	Schema               string `json:"message_content_schema"`
	RecipientSubidentity string `json:"recipient_subidentity"`
	RawContent           string `json:"message_raw_content"`
}

// Builder holds the long-lived credentials and stamps out envelopes.
type Builder struct {
	encSK       [32]byte
	encPK       [32]byte
	sigKey      ed25519.PrivateKey
	receiverPK  [32]byte
	nodeName    string
	profileName string
	deviceName  string
}

// NewBuilder parses the hex-encoded key material. The encryption secret
// key and receiver public key are X25519 (32 bytes); the signature secret
// key is an ed25519 seed (32 bytes).
func NewBuilder(encryptionSK, signatureSK, receiverPK, nodeName, profileName, deviceName string) (*Builder, error) {
	b := &Builder{
		nodeName:    nodeName,
		profileName: profileName,
		deviceName:  deviceName,
	}

	if err := decodeKey32(encryptionSK, &b.encSK); err != nil {
		return nil, fmt.Errorf("encryption secret key: %w", err)
	}
	seed := make([]byte, 32)
	if err := decodeKeyInto(signatureSK, seed); err != nil {
		return nil, fmt.Errorf("signature secret key: %w", err)
	}
	b.sigKey = ed25519.NewKeyFromSeed(seed)
	if err := decodeKey32(receiverPK, &b.receiverPK); err != nil {
		return nil, fmt.Errorf("receiver public key: %w", err)
	}

	pub, err := curve25519.X25519(b.encSK[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption public key: %w", err)
	}
	copy(b.encPK[:], pub)

	return b, nil
}

// JobCreation builds the envelope for /v1/create_job targeting agentID.
func (b *Builder) JobCreation(agentID string) (*Envelope, error) {
	raw, err := json.Marshal(map[string]any{"agent": agentID})
	if err != nil {
		return nil, err
	}
	return b.seal(SchemaJobCreation, agentID, raw)
}

// JobMessage builds the envelope for /v1/job_message.
func (b *Builder) JobMessage(jobID, content string) (*Envelope, error) {
	raw, err := json.Marshal(map[string]any{"job_id": jobID, "content": content})
	if err != nil {
		return nil, err
	}
	return b.seal(SchemaJobMessage, "", raw)
}

// InboxRequest builds the envelope for /v1/last_messages_from_inbox,
// reading up to count messages from the job's inbox.
func (b *Builder) InboxRequest(jobID string, count int) (*Envelope, error) {
	raw, err := json.Marshal(map[string]any{
		"inbox": JobInboxName(jobID),
		"count": count,
	})
	if err != nil {
		return nil, err
	}
	return b.seal(SchemaInboxRead, "", raw)
}

// SignaturePublicKey returns the verification half of the signature key.
func (b *Builder) SignaturePublicKey() ed25519.PublicKey {
	return b.sigKey.Public().(ed25519.PublicKey)
}

// JobInboxName derives the node-side inbox name for a job.
func JobInboxName(jobID string) string {
	return "job_inbox::" + jobID + "::false"
}

func (b *Builder) seal(schema, recipientSubidentity string, raw []byte) (*Envelope, error) {
	plain, err := json.Marshal(Payload{
		Schema:               schema,
		RecipientSubidentity: recipientSubidentity,
		RawContent:           string(raw),
	})
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(b.encSK[:], b.receiverPK[:])
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret: %w", err)
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	body := base64.StdEncoding.EncodeToString(sealed)

	return &Envelope{
		Body:       body,
		Encryption: EncryptionScheme,
		External: ExternalMetadata{
			Sender:        b.nodeName,
			Recipient:     b.nodeName,
			IntraSender:   b.profileName,
			SenderEncPK:   hex.EncodeToString(b.encPK[:]),
			ScheduledTime: time.Now().UTC().Format(time.RFC3339),
			Signature:     hex.EncodeToString(ed25519.Sign(b.sigKey, []byte(body))),
		},
	}, nil
}

// Open verifies and decrypts an envelope with the receiver's secret key
// and the sender's signature public key. The node side of the handshake;
// kept here so the sealing path has an in-repo counterpart to test
// against.
func Open(env *Envelope, receiverSK []byte, senderSigPK ed25519.PublicKey) (*Payload, error) {
	sig, err := hex.DecodeString(env.External.Signature)
	if err != nil {
		return nil, fmt.Errorf("decoding signature: %w", err)
	}
	if !ed25519.Verify(senderSigPK, []byte(env.Body), sig) {
		return nil, ErrBadSignature
	}

	senderPK, err := hex.DecodeString(env.External.SenderEncPK)
	if err != nil || len(senderPK) != 32 {
		return nil, errors.New("malformed sender encryption public key")
	}
	shared, err := curve25519.X25519(receiverSK, senderPK)
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret: %w", err)
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("envelope body too short")
	}
	plain, err := aead.Open(nil, sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting body: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return &p, nil
}

func decodeKey32(s string, dst *[32]byte) error {
	return decodeKeyInto(s, dst[:])
}

func decodeKeyInto(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
