package webhook_test

import (
	"crypto/ed25519"
	"encoding/hex"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bugbot.app/relay/internal/http/handler/webhook"
)

var _ = Describe("Verifier", func() {
	var (
		pub      ed25519.PublicKey
		priv     ed25519.PrivateKey
		verifier *webhook.Verifier
		body     []byte
	)

	BeforeEach(func() {
		var err error
		pub, priv, err = ed25519.GenerateKey(nil)
		Expect(err).NotTo(HaveOccurred())
		verifier, err = webhook.NewVerifier(hex.EncodeToString(pub))
		Expect(err).NotTo(HaveOccurred())
		body = []byte(`{"type":1}`)
	})

	sign := func(timestamp string, body []byte) string {
		return hex.EncodeToString(ed25519.Sign(priv, append([]byte(timestamp), body...)))
	}

	It("accepts a signature over timestamp and body", func() {
		Expect(verifier.Verify(body, sign("1700000000", body), "1700000000")).To(BeTrue())
	})

	It("rejects a signature for a different timestamp", func() {
		Expect(verifier.Verify(body, sign("1700000000", body), "1700000001")).To(BeFalse())
	})

	It("rejects a tampered body", func() {
		sig := sign("1700000000", body)
		Expect(verifier.Verify([]byte(`{"type":2}`), sig, "1700000000")).To(BeFalse())
	})

	It("rejects missing headers", func() {
		Expect(verifier.Verify(body, "", "1700000000")).To(BeFalse())
		Expect(verifier.Verify(body, sign("1700000000", body), "")).To(BeFalse())
	})

	It("rejects signatures that are not hex", func() {
		Expect(verifier.Verify(body, "zz-not-hex", "1700000000")).To(BeFalse())
		Expect(verifier.Verify(body, "abcd", "1700000000")).To(BeFalse())
	})

	It("rejects malformed public keys at construction", func() {
		_, err := webhook.NewVerifier("not-hex")
		Expect(err).To(HaveOccurred())
		_, err = webhook.NewVerifier("abcd")
		Expect(err).To(HaveOccurred())
	})
})
