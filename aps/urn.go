package aps

import (
	"encoding/base64"
	"strings"
)

// Urnify encodes an upstream object id as the padding-free base64 handle the
// viewer and the derivative API expect.
func Urnify(id string) string {
	return strings.TrimRight(base64.StdEncoding.EncodeToString([]byte(id)), "=")
}

// Deurnify reverses Urnify. URL-safe input is accepted too.
func Deurnify(urn string) (string, error) {
	s := strings.TrimRight(urn, "=")
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ObjectID builds the OSS object id for a bucket and object key.
func ObjectID(bucketKey, objectKey string) string {
	return "urn:adsk.objects:os.object:" + bucketKey + "/" + objectKey
}

// SafeURN converts a urn to the URL-safe alphabet so it can be used as a path
// segment.
func SafeURN(urn string) string {
	return strings.NewReplacer("+", "-", "/", "_").Replace(strings.TrimRight(urn, "="))
}
