package conn

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

func stringToUTF16LE(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, len(u)*2)
	for i, r := range u {
		binary.LittleEndian.PutUint16(out[i*2:], r)
	}
	return out
}

func putUint32LE(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

// parseRoutingTarget decodes ENVCHANGE type 20's new_value, which carries
// a protocol byte, a u16 port, and the target hostname, pre-rendered by
// the ENVCHANGE reader's routing payload into "host:port" text form.
func parseRoutingTarget(newValue string) (string, int, error) {
	idx := strings.LastIndex(newValue, ":")
	if idx < 0 {
		return "", 0, tdserrors.NewProtocolError("malformed routing target %q", newValue)
	}
	host := newValue[:idx]
	port, err := strconv.Atoi(newValue[idx+1:])
	if err != nil {
		return "", 0, tdserrors.NewProtocolError("malformed routing port in %q: %v", newValue, err)
	}
	return host, port, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "mssqlext-client"
	}
	return h
}
