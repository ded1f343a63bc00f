package license

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Element and attribute names of the signed license document.
const (
	licenseElement         = "license"
	signatureElement       = "signature"
	nameElement            = "name"
	serverPublicKeyElement = "license-server-public-key"

	idAttribute         = "id"
	expirationAttribute = "expiration"
	typeAttribute       = "type"
)

// ParsePublicKey decodes a PEM-encoded PKIX public key and returns the
// RSA key it contains.
func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("license: public key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("license: failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("license: public key is not an RSA key")
	}
	return key, nil
}

// Verify checks the enveloped signature of a license document against
// the supplied public key and parses the verified document into a
// Record. Verification fails closed: a malformed document, a missing
// signature node, a signature that does not verify, or a missing or
// unparseable mandatory field all reject the document.
func Verify(licenseText string, publicKey *rsa.PublicKey) (*Record, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("%w: no public key", ErrBadSignature)
	}
	if strings.TrimSpace(licenseText) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedDocument)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(licenseText); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != licenseElement {
		return nil, fmt.Errorf("%w: missing <%s> root element", ErrMalformedDocument, licenseElement)
	}

	sig := root.SelectElement(signatureElement)
	if sig == nil {
		return nil, ErrMissingSignature
	}
	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64", ErrBadSignature)
	}

	// The signature covers the canonical serialization of the document
	// with the signature node detached.
	root.RemoveChild(sig)
	signed, err := canonicalBytes(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	digest := sha256.Sum256(signed)
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], sigBytes); err != nil {
		return nil, ErrBadSignature
	}

	return parseRecord(root)
}

// canonicalBytes serializes a document deterministically so that signer
// and verifier agree byte for byte.
func canonicalBytes(doc *etree.Document) ([]byte, error) {
	doc.WriteSettings = etree.WriteSettings{
		CanonicalAttrVal: true,
		CanonicalEndTags: true,
		CanonicalText:    true,
	}
	return doc.WriteToBytes()
}

// parseRecord extracts the mandatory fields and free-form attributes
// from a signature-verified license element.
func parseRecord(root *etree.Element) (*Record, error) {
	id := root.SelectAttr(idAttribute)
	if id == nil || strings.TrimSpace(id.Value) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, idAttribute)
	}

	expAttr := root.SelectAttr(expirationAttribute)
	if expAttr == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, expirationAttribute)
	}
	expiration, err := time.Parse(expirationLayout, expAttr.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s value %q", ErrMissingField, expirationAttribute, expAttr.Value)
	}

	typeAttr := root.SelectAttr(typeAttribute)
	if typeAttr == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, typeAttribute)
	}
	kind, err := ParseKind(typeAttr.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}

	nameEl := root.SelectElement(nameElement)
	if nameEl == nil || strings.TrimSpace(nameEl.Text()) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, nameElement)
	}

	rec := &Record{
		UserID:     id.Value,
		Name:       strings.TrimSpace(nameEl.Text()),
		Kind:       kind,
		Expiration: expiration,
		Attributes: make(map[string]string),
	}

	for _, attr := range root.Attr {
		switch attr.Key {
		case idAttribute, expirationAttribute, typeAttribute:
		default:
			rec.Attributes[attr.Key] = attr.Value
		}
	}

	if keyEl := root.SelectElement(serverPublicKeyElement); keyEl != nil {
		rec.ServerPublicKey = strings.TrimSpace(keyEl.Text())
	}

	return rec, nil
}
