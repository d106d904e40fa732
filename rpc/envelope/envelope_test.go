package envelope

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomEnvelope builds a valid envelope with random field values
func randomEnvelope(r *rand.Rand, limits Limits) Envelope {
	e := Envelope{
		MajorVersion: MajorVersion,
		MinorVersion: uint8(r.Intn(256)),
		Flags:        uint16(r.Intn(1 << 16)),
		SessionID:    r.Uint32(),
		RequestID:    r.Uint32(),
		Sequence:     r.Uint32(),
	}
	e.DeclaredLength = uint32(r.Int63n(int64(limits.MaxMessageLength) + 1))
	if e.Truncated() {
		e.FragmentLength = uint32(r.Int63n(int64(e.DeclaredLength) + 1))
	} else {
		e.FragmentLength = e.DeclaredLength
	}
	return e
}

// TestRoundTrip checks that decoding an encoded envelope yields the same envelope
func TestRoundTrip(t *testing.T) {
	limits := DefaultLimits()
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 10000; i++ {
		e := randomEnvelope(r, limits)

		encoded := Encode(e)
		require.Len(t, encoded, HeaderLen)

		decoded, err := Decode(encoded, limits)
		require.NoError(t, err, "envelope %s", e)
		require.Equal(t, e, decoded)

		// re-encoding must reproduce the exact bytes
		require.True(t, bytes.Equal(encoded, Encode(decoded)))
	}
}

// TestRoundTripEdgeValues covers the extremes of every numeric field
func TestRoundTripEdgeValues(t *testing.T) {
	limits := Limits{MaxMessageLength: ^uint32(0)}

	cases := map[string]Envelope{
		"zero body": New(0, 0, 0),
		"max ids": {
			MajorVersion: MajorVersion, MinorVersion: 255, Flags: FlagResponse,
			SessionID: ^uint32(0), RequestID: ^uint32(0),
		},
		"max lengths": {
			MajorVersion: MajorVersion, Flags: FlagTruncated | FlagEncrypted | FlagCompressed,
			Sequence: ^uint32(0), DeclaredLength: ^uint32(0), FragmentLength: ^uint32(0),
		},
		"all flags": {
			MajorVersion: MajorVersion, Flags: 0xffff, DeclaredLength: 10, FragmentLength: 3,
		},
	}

	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := Decode(Encode(e), limits)
			require.NoError(t, err)
			assert.Equal(t, e, decoded)
		})
	}
}

func TestFlags(t *testing.T) {
	e := New(1, 2, FlagTruncated|FlagResponse)
	assert.True(t, e.Truncated())
	assert.True(t, e.IsResponse())
	assert.False(t, e.Encrypted())
	assert.False(t, e.Compressed())
}

// TestDecodeMalformed checks that every invalid header is reported as malformed
func TestDecodeMalformed(t *testing.T) {
	limits := Limits{MaxMessageLength: 1024}

	valid := New(7, 9, 0)
	valid.DeclaredLength = 10
	valid.FragmentLength = 10

	cases := map[string]func() []byte{
		"short header": func() []byte {
			return Encode(valid)[:HeaderLen-1]
		},
		"empty": func() []byte {
			return nil
		},
		"unsupported major version": func() []byte {
			e := valid
			e.MajorVersion = 1
			return Encode(e)
		},
		"declared length over limit": func() []byte {
			e := valid
			e.DeclaredLength = 1025
			e.FragmentLength = 1025
			return Encode(e)
		},
		"fragment longer than message": func() []byte {
			e := valid
			e.Flags = FlagTruncated
			e.FragmentLength = 11
			return Encode(e)
		},
		"unfragmented length mismatch": func() []byte {
			e := valid
			e.FragmentLength = 4
			return Encode(e)
		},
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(input(), limits)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrMalformedEnvelope)
			assert.True(t, common.IsConnectionFatal(err))
		})
	}
}

func TestDecodeAtLimit(t *testing.T) {
	limits := Limits{MaxMessageLength: 1024}
	e := New(1, 1, 0)
	e.DeclaredLength = 1024
	e.FragmentLength = 1024

	decoded, err := Decode(Encode(e), limits)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

// TestDecodeIgnoresTrailingBytes checks that only the header prefix is read
func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	e := New(3, 4, 0)
	e.DeclaredLength = 2
	e.FragmentLength = 2

	buf := append(Encode(e), 0xAA, 0xBB)
	decoded, err := Decode(buf, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func BenchmarkEncodeDecode(b *testing.B) {
	e := New(1, 2, FlagTruncated)
	e.DeclaredLength = 4096
	e.FragmentLength = 1024
	buf := make([]byte, HeaderLen)
	limits := DefaultLimits()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeTo(buf, e)
		if _, err := Decode(buf, limits); err != nil {
			b.Fatal(err)
		}
	}
}
