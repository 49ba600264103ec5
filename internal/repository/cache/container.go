package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	HeaderETag         = "etag"
	HeaderCacheControl = "cache-control"
)

var (
	ErrCorruptFormat = errors.New("corrupt tile container")

	containerMagic = [4]byte{0xde, 0xca, 0xfb, 0xad}
)

/*
Container is the on-disk representation of a cached tile:

	[4]  magic 0xde 0xca 0xfb 0xad
	[4]  header count N
	N x  [4] key length, [4] value length, key bytes, value bytes
	[4]  payload length M
	[M]  payload

All integers are big-endian uint32. Header keys are lower-cased.
*/
type Container struct {
	Payload []byte
	Headers map[string]string
}

func NewContainer(payload []byte) *Container {
	return &Container{
		Payload: payload,
		Headers: make(map[string]string),
	}
}

func (c *Container) Header(key string) string {
	return c.Headers[strings.ToLower(key)]
}

func (c *Container) SetHeader(key, value string) {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[strings.ToLower(key)] = value
}

func (c *Container) ETag() string {
	return c.Header(HeaderETag)
}

// Expiry returns the cache-control deadline in epoch milliseconds.
func (c *Container) Expiry() (int64, bool) {
	v := c.Header(HeaderCacheControl)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

func (c *Container) SetExpiry(epochMillis int64) {
	c.SetHeader(HeaderCacheControl, strconv.FormatInt(epochMillis, 10))
}

// MarshalBinary writes headers in key order so equal containers encode to
// equal bytes.
func (c *Container) MarshalBinary() ([]byte, error) {
	keys := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 12 + len(c.Payload)
	for _, k := range keys {
		size += 8 + len(k) + len(c.Headers[k])
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	buf.Write(containerMagic[:])
	writeUint32(buf, len(keys))

	for _, k := range keys {
		key := strings.ToLower(k)
		value := c.Headers[k]
		writeUint32(buf, len(key))
		writeUint32(buf, len(value))
		buf.WriteString(key)
		buf.WriteString(value)
	}

	writeUint32(buf, len(c.Payload))
	buf.Write(c.Payload)

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data into c. On failure the payload is left nil;
// headers parsed before the failure are kept but must not be relied on.
func (c *Container) UnmarshalBinary(data []byte) error {
	c.Payload = nil
	c.Headers = make(map[string]string)

	r := reader{data: data}

	magic, ok := r.next(4)
	if !ok || !bytes.Equal(magic, containerMagic[:]) {
		return fmt.Errorf("%w: bad magic", ErrCorruptFormat)
	}

	count, ok := r.uint32()
	if !ok {
		return fmt.Errorf("%w: truncated header count", ErrCorruptFormat)
	}

	for i := uint32(0); i < count; i++ {
		keyLen, ok := r.uint32()
		if !ok {
			return fmt.Errorf("%w: truncated header %d", ErrCorruptFormat, i)
		}
		valueLen, ok := r.uint32()
		if !ok {
			return fmt.Errorf("%w: truncated header %d", ErrCorruptFormat, i)
		}
		key, ok := r.next(int(keyLen))
		if !ok {
			return fmt.Errorf("%w: header %d key overruns buffer", ErrCorruptFormat, i)
		}
		value, ok := r.next(int(valueLen))
		if !ok {
			return fmt.Errorf("%w: header %d value overruns buffer", ErrCorruptFormat, i)
		}
		c.Headers[strings.ToLower(string(key))] = string(value)
	}

	contentLen, ok := r.uint32()
	if !ok {
		return fmt.Errorf("%w: truncated content length", ErrCorruptFormat)
	}
	if uint64(r.remaining()) != uint64(contentLen) {
		return fmt.Errorf("%w: content length %d, %d bytes remaining", ErrCorruptFormat, contentLen, r.remaining())
	}

	payload, _ := r.next(int(contentLen))
	c.Payload = append([]byte{}, payload...)

	return nil
}

func writeUint32(buf *bytes.Buffer, n int) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	buf.Write(b[:])
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) next(n int) ([]byte, bool) {
	if n < 0 || n > r.remaining() {
		return nil, false
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *reader) uint32() (uint32, bool) {
	b, ok := r.next(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}
