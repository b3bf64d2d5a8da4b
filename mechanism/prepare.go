package mechanism

import "crypto"

// DigestInfo prefixes of PKCS#1 v1.5 signatures, see RFC 8017 section 9.2.
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	crypto.SHA224: {0x30, 0x2d, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x04, 0x05, 0x00, 0x04, 0x1c},
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// Prepare turns the accumulated message into the value the NetHSM signs.
// Hashing mechanisms digest it locally. ECDSA values are normalized to
// the curve width.
func (d *Descriptor) Prepare(data []byte, keySize int) []byte {
	msg := data
	if d.Hash != 0 {
		h := d.Hash.New()
		h.Write(data)
		msg = h.Sum(nil)
		switch d.Family {
		case FamilyRSAPKCS1:
			prefix := digestInfoPrefixes[d.Hash]
			msg = append(append(make([]byte, 0, len(prefix)+len(msg)), prefix...), msg...)
		case FamilyECDSA:
			// A digest wider than the curve keeps its leftmost bytes.
			if size := d.InputSize(keySize); len(msg) > size {
				msg = msg[:size]
			}
		}
	}
	if d.FixedInput() {
		msg = Normalize(msg, d.InputSize(keySize))
	}
	return msg
}

// Normalize right-aligns data in a zeroed buffer of size bytes. Longer
// input keeps its rightmost size bytes.
func Normalize(data []byte, size int) []byte {
	out := make([]byte, size)
	if len(data) >= size {
		copy(out, data[len(data)-size:])
	} else {
		copy(out[size-len(data):], data)
	}
	return out
}
