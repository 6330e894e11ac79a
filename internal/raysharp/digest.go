package raysharp

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var challengeParamRe = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([\w]+))`)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomCnonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// parseDigestChallenge splits a WWW-Authenticate: Digest header into its
// key/value parameters (realm, nonce, qop, userhash...).
func parseDigestChallenge(header string) map[string]string {
	params := make(map[string]string)
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "digest ") {
		header = header[7:]
	}
	for _, m := range challengeParamRe.FindAllStringSubmatch(header, -1) {
		val := m[2]
		if val == "" && m[3] != "" {
			val = m[3]
		}
		params[m[1]] = val
	}
	return params
}

// buildDigestHeader computes an Authorization: Digest header per RFC 2617.
//
// HA1 = MD5(username:realm:password)
// HA2 = MD5(method:uri)
// response = MD5(HA1:nonce:nc:cnonce:qop:HA2)   when qop includes "auth"
//          = MD5(HA1:nonce:HA2)                  otherwise
//
// The cnonce is passed in so a caller (or test) can pin it; the nonce count
// is formatted as an 8-digit lowercase hex value.
func buildDigestHeader(username, password, method, uri string, challenge map[string]string, nc int, cnonce string) string {
	realm := challenge["realm"]
	nonce := challenge["nonce"]
	useUserhash := strings.EqualFold(challenge["userhash"], "true")

	// The challenge may offer several qop options ("auth,auth-int"); we
	// select "auth" and the selected value is what goes into the hash.
	qop := ""
	if strings.Contains(challenge["qop"], "auth") {
		qop = "auth"
	}

	ncStr := fmt.Sprintf("%08x", nc)

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	var response string
	if qop != "" {
		response = md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, ncStr, cnonce, qop, ha2))
	} else {
		response = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
	}

	usernameValue := username
	if useUserhash {
		usernameValue = md5Hex(fmt.Sprintf("%s:%s", username, realm))
	}

	parts := []string{
		fmt.Sprintf(`username="%s"`, usernameValue),
		fmt.Sprintf(`realm="%s"`, realm),
		fmt.Sprintf(`nonce="%s"`, nonce),
		fmt.Sprintf(`uri="%s"`, uri),
	}
	if qop != "" {
		parts = append(parts,
			fmt.Sprintf(`cnonce="%s"`, cnonce),
			fmt.Sprintf("nc=%s", ncStr),
			fmt.Sprintf("qop=%s", qop),
		)
	}
	parts = append(parts, fmt.Sprintf(`response="%s"`, response))
	if opaque := challenge["opaque"]; opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, opaque))
	}
	if useUserhash {
		parts = append(parts, "userhash=true")
	}

	return "Digest " + strings.Join(parts, ", ")
}
