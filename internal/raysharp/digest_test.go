package raysharp

import (
	"strings"
	"testing"
)

// Reference vector from RFC 2617 section 3.5.
const rfcChallenge = `Digest realm="testrealm@host.com", qop="auth,auth-int", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41"`

func TestParseDigestChallenge(t *testing.T) {
	params := parseDigestChallenge(rfcChallenge)

	if params["realm"] != "testrealm@host.com" {
		t.Errorf("realm = %q", params["realm"])
	}
	if params["nonce"] != "dcd98b7102dd2f0e8b11d0f600bfb0c093" {
		t.Errorf("nonce = %q", params["nonce"])
	}
	if params["qop"] != "auth,auth-int" {
		t.Errorf("qop = %q", params["qop"])
	}
	if params["opaque"] != "5ccc069c403ebaf9f0171e9517f40e41" {
		t.Errorf("opaque = %q", params["opaque"])
	}
}

func TestParseDigestChallengeUnquoted(t *testing.T) {
	params := parseDigestChallenge(`Digest realm="r", algorithm=MD5, stale=false`)
	if params["algorithm"] != "MD5" {
		t.Errorf("algorithm = %q", params["algorithm"])
	}
	if params["stale"] != "false" {
		t.Errorf("stale = %q", params["stale"])
	}
}

func TestBuildDigestHeaderRFCVector(t *testing.T) {
	challenge := parseDigestChallenge(rfcChallenge)
	header := buildDigestHeader(
		"Mufasa", "Circle Of Life",
		"GET", "/dir/index.html",
		challenge, 1, "0a4f113b",
	)

	if !strings.Contains(header, `response="6629fae49393a05397450978507c4ef1"`) {
		t.Errorf("header missing RFC 2617 reference response: %s", header)
	}
	if !strings.Contains(header, `username="Mufasa"`) {
		t.Errorf("header missing username: %s", header)
	}
	if !strings.Contains(header, "nc=00000001") {
		t.Errorf("header missing padded nonce count: %s", header)
	}
	if !strings.Contains(header, `qop=auth`) {
		t.Errorf("header missing qop: %s", header)
	}
}

func TestBuildDigestHeaderNoQop(t *testing.T) {
	challenge := map[string]string{
		"realm": "testrealm@host.com",
		"nonce": "dcd98b7102dd2f0e8b11d0f600bfb0c093",
	}
	header := buildDigestHeader("Mufasa", "Circle Of Life", "GET", "/dir/index.html", challenge, 1, "0a4f113b")

	// Without qop the response is MD5(HA1:nonce:HA2) and nc/cnonce are
	// omitted.
	if strings.Contains(header, "qop=") {
		t.Errorf("no-qop header must not carry qop: %s", header)
	}
	if strings.Contains(header, "nc=") {
		t.Errorf("no-qop header must not carry nc: %s", header)
	}
	want := md5Hex(md5Hex("Mufasa:testrealm@host.com:Circle Of Life") +
		":dcd98b7102dd2f0e8b11d0f600bfb0c093:" +
		md5Hex("GET:/dir/index.html"))
	if !strings.Contains(header, `response="`+want+`"`) {
		t.Errorf("header response mismatch: %s", header)
	}
}

func TestRandomCnonce(t *testing.T) {
	a, b := randomCnonce(), randomCnonce()
	if len(a) != 32 {
		t.Errorf("cnonce length = %d, want 32 hex chars", len(a))
	}
	if a == b {
		t.Error("consecutive cnonces must differ")
	}
}
