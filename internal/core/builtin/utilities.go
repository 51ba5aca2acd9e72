package builtin

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxUUIDs = 1000

func init() {
	register("hash_generator", hashGenerator)
	register("base64_encoder", base64Encoder)
	register("base64_decoder", base64Decoder)
	register("uuid_generator", uuidGenerator)
	register("url_encoder", urlEncoder)
	register("url_decoder", urlDecoder)
	register("json_formatter", jsonFormatter)
	register("json_minifier", jsonMinifier)
	register("string_sorter", stringSorter)
}

func hashGenerator(p Payload) (map[string]any, error) {
	text := []byte(p.String("text", ""))
	m := md5.Sum(text)
	s1 := sha1.Sum(text)
	s256 := sha256.Sum256(text)
	return map[string]any{
		"success": true,
		"md5":     hex.EncodeToString(m[:]),
		"sha1":    hex.EncodeToString(s1[:]),
		"sha256":  hex.EncodeToString(s256[:]),
	}, nil
}

func base64Encoder(p Payload) (map[string]any, error) {
	text := p.String("text", "")
	return map[string]any{
		"success":  true,
		"original": text,
		"encoded":  base64.StdEncoding.EncodeToString([]byte(text)),
	}, nil
}

func base64Decoder(p Payload) (map[string]any, error) {
	decoded, err := base64.StdEncoding.DecodeString(p.String("encoded", ""))
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(decoded) {
		return nil, errors.New("decoded bytes are not valid UTF-8")
	}
	return map[string]any{"success": true, "decoded": string(decoded)}, nil
}

func uuidGenerator(p Payload) (map[string]any, error) {
	count, err := p.Int("count", 1)
	if err != nil {
		return nil, err
	}
	if count > maxUUIDs {
		return nil, fmt.Errorf("count must be at most %d", maxUUIDs)
	}
	ids := make([]string, 0, max(count, 0))
	for i := int64(0); i < count; i++ {
		ids = append(ids, uuid.NewString())
	}
	return map[string]any{"success": true, "uuids": ids, "count": len(ids)}, nil
}

// quote percent-encodes everything except unreserved characters and '/'.
func quote(s string) string {
	const hexUpper = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~', c == '/':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexUpper[c>>4])
			b.WriteByte(hexUpper[c&15])
		}
	}
	return b.String()
}

func urlEncoder(p Payload) (map[string]any, error) {
	text := p.String("text", "")
	return map[string]any{"success": true, "original": text, "encoded": quote(text)}, nil
}

func urlDecoder(p Payload) (map[string]any, error) {
	encoded := p.String("encoded", "")
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "encoded": encoded, "decoded": decoded}, nil
}

func jsonFormatter(p Payload) (map[string]any, error) {
	indent, err := p.Int("indent", 2)
	if err != nil {
		return nil, err
	}
	if indent < 0 {
		indent = 0
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(p.String("json_data", "{}")), "", strings.Repeat(" ", int(indent))); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "formatted": out.String()}, nil
}

func jsonMinifier(p Payload) (map[string]any, error) {
	data := p.String("json_data", "{}")
	var out bytes.Buffer
	if err := json.Compact(&out, []byte(data)); err != nil {
		return nil, err
	}
	original, minified := utf8.RuneCountInString(data), utf8.RuneCount(out.Bytes())
	return map[string]any{
		"success":       true,
		"minified":      out.String(),
		"original_size": original,
		"minified_size": minified,
		"savings":       original - minified,
	}, nil
}

func stringSorter(p Payload) (map[string]any, error) {
	strs, err := p.Strings("strings")
	if err != nil {
		return nil, err
	}
	if strs == nil {
		strs = []string{}
	}
	reverse := p.Bool("reverse", false)

	sorted := make([]string, len(strs))
	copy(sorted, strs)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	} else {
		sort.Strings(sorted)
	}
	return map[string]any{
		"success":  true,
		"original": strs,
		"sorted":   sorted,
		"reverse":  reverse,
	}, nil
}
