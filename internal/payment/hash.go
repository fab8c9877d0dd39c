// Package payment runs the hosted-checkout handshake with a PayU-style
// gateway: the store signs the checkout form, the gateway posts the outcome
// back, and the store trusts it only if the reverse signature matches.
package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Request is the signed part of the checkout form.
type Request struct {
	Key         string
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF         [5]string
}

// Response is the gateway's callback form.
type Response struct {
	Key               string
	TxnID             string
	Amount            string
	ProductInfo       string
	FirstName         string
	Email             string
	UDF               [5]string
	Status            string
	Hash              string
	AdditionalCharges string
	GatewayRef        string
}

// Hash is the hex SHA-512 of fields joined by "|".
func Hash(fields ...string) string {
	sum := sha512.Sum512([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// RequestHash signs r:
// key|txnid|amount|productinfo|firstname|email|udf1..udf5||||||salt
func RequestHash(r Request, salt string) string {
	fields := []string{r.Key, r.TxnID, r.Amount, r.ProductInfo, r.FirstName, r.Email}
	fields = append(fields, r.UDF[:]...)
	fields = append(fields, "", "", "", "", "", salt)
	return Hash(fields...)
}

// ResponseHash is the signature the gateway must have sent for r:
// [additionalCharges|]salt|status||||||udf5..udf1|email|firstname|productinfo|amount|txnid|key
func ResponseHash(r Response, salt string) string {
	var fields []string
	if r.AdditionalCharges != "" {
		fields = append(fields, r.AdditionalCharges)
	}
	fields = append(fields, salt, r.Status, "", "", "", "", "")
	for i := len(r.UDF) - 1; i >= 0; i-- {
		fields = append(fields, r.UDF[i])
	}
	fields = append(fields, r.Email, r.FirstName, r.ProductInfo, r.Amount, r.TxnID, r.Key)
	return Hash(fields...)
}

// Verify reports whether r carries a valid signature for salt. Hex case is
// ignored.
func (r Response) Verify(salt string) bool {
	got := strings.ToLower(strings.TrimSpace(r.Hash))
	want := ResponseHash(r, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
