// Package sid provides Windows Security Identifier (SID) types, parsing,
// encoding, and the well-known identities the portal recognizes.
//
// SIDs are the canonical identity keys of this system: two principals are
// the same iff their SIDs match. The binary format follows MS-DTYP
// Section 2.4.2:
//
//	Revision(1) + SubAuthorityCount(1) + IdentifierAuthority(6, big-endian)
//	+ SubAuthorities(4*N, little-endian)
//
// The string format is "S-{Revision}-{Authority}-{SubAuth1}-...-{SubAuthN}".
package sid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// SID represents a Windows Security Identifier per MS-DTYP Section 2.4.2.
type SID struct {
	// Revision is always 1.
	Revision uint8

	// IdentifierAuthority is the top-level authority (6 bytes, big-endian).
	IdentifierAuthority [6]byte

	// SubAuthorities contains the sub-authority values. The last one is
	// the RID for account SIDs.
	SubAuthorities []uint32
}

// Parse parses a SID string in "S-1-5-21-..." format.
func Parse(s string) (*SID, error) {
	if !strings.HasPrefix(s, "S-") {
		return nil, fmt.Errorf("invalid SID %q: must start with S-", s)
	}

	parts := strings.Split(s[2:], "-")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid SID %q: need at least revision and authority", s)
	}

	revision, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid SID revision: %w", err)
	}

	authority, err := strconv.ParseUint(parts[1], 10, 48)
	if err != nil {
		return nil, fmt.Errorf("invalid SID authority: %w", err)
	}

	out := &SID{Revision: uint8(revision)}
	for i := 5; i >= 0; i-- {
		out.IdentifierAuthority[i] = byte(authority & 0xFF)
		authority >>= 8
	}

	out.SubAuthorities = make([]uint32, len(parts)-2)
	for i := range out.SubAuthorities {
		val, err := strconv.ParseUint(parts[i+2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid SID sub-authority %d: %w", i, err)
		}
		out.SubAuthorities[i] = uint32(val)
	}

	return out, nil
}

// MustParse parses a SID string and panics on error. Used for well-known SIDs.
func MustParse(s string) *SID {
	out, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("invalid well-known SID %q: %v", s, err))
	}
	return out
}

// Decode parses a binary SID per MS-DTYP Section 2.4.2, returning the SID
// and the number of bytes consumed.
func Decode(data []byte) (*SID, int, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("SID too short: %d bytes", len(data))
	}

	count := int(data[1])
	size := 8 + 4*count
	if len(data) < size {
		return nil, 0, fmt.Errorf("SID data too short for %d sub-authorities: have %d, need %d", count, len(data), size)
	}

	out := &SID{Revision: data[0]}
	copy(out.IdentifierAuthority[:], data[2:8])
	out.SubAuthorities = make([]uint32, count)
	for i := range out.SubAuthorities {
		out.SubAuthorities[i] = binary.LittleEndian.Uint32(data[8+4*i : 12+4*i])
	}

	return out, size, nil
}

// Encode writes the binary SID encoding to buf.
func (s *SID) Encode(buf *bytes.Buffer) {
	buf.WriteByte(s.Revision)
	buf.WriteByte(uint8(len(s.SubAuthorities)))
	buf.Write(s.IdentifierAuthority[:])
	for _, sa := range s.SubAuthorities {
		_ = binary.Write(buf, binary.LittleEndian, sa)
	}
}

// String formats the SID in "S-1-5-21-..." form.
func (s *SID) String() string {
	var authority uint64
	for i := range 6 {
		authority = (authority << 8) | uint64(s.IdentifierAuthority[i])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", s.Revision, authority)
	for _, sa := range s.SubAuthorities {
		fmt.Fprintf(&b, "-%d", sa)
	}
	return b.String()
}

// Equal reports whether two SIDs are identical.
func (s *SID) Equal(other *SID) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if s.Revision != other.Revision || s.IdentifierAuthority != other.IdentifierAuthority {
		return false
	}
	if len(s.SubAuthorities) != len(other.SubAuthorities) {
		return false
	}
	for i := range s.SubAuthorities {
		if s.SubAuthorities[i] != other.SubAuthorities[i] {
			return false
		}
	}
	return true
}

// RID returns the final sub-authority (the relative identifier) and true,
// or 0 and false when the SID has no sub-authorities.
func (s *SID) RID() (uint32, bool) {
	if len(s.SubAuthorities) == 0 {
		return 0, false
	}
	return s.SubAuthorities[len(s.SubAuthorities)-1], true
}

// Domain returns the SID with the final sub-authority stripped: for an
// account SID this is the SID of the issuing domain. Returns nil when the
// SID has no sub-authorities to strip.
func (s *SID) Domain() *SID {
	if len(s.SubAuthorities) == 0 {
		return nil
	}
	out := &SID{
		Revision:            s.Revision,
		IdentifierAuthority: s.IdentifierAuthority,
		SubAuthorities:      make([]uint32, len(s.SubAuthorities)-1),
	}
	copy(out.SubAuthorities, s.SubAuthorities[:len(s.SubAuthorities)-1])
	return out
}

// WithRID returns a new SID with rid appended as an extra sub-authority.
// A domain SID combined with a user's primary-group RID yields the SID of
// the primary group.
func (s *SID) WithRID(rid uint32) *SID {
	out := &SID{
		Revision:            s.Revision,
		IdentifierAuthority: s.IdentifierAuthority,
		SubAuthorities:      make([]uint32, len(s.SubAuthorities)+1),
	}
	copy(out.SubAuthorities, s.SubAuthorities)
	out.SubAuthorities[len(s.SubAuthorities)] = rid
	return out
}

// AppendRID combines a domain SID string with a RID, e.g. the user's
// primaryGroupID attribute. Invalid input yields "".
func AppendRID(domainSID string, rid uint32) string {
	if _, err := Parse(domainSID); err != nil {
		return ""
	}
	return domainSID + "-" + strconv.FormatUint(uint64(rid), 10)
}

// DomainOf returns the domain part of a SID string, or "" for SIDs with no
// sub-authorities or invalid input.
func DomainOf(s string) string {
	parsed, err := Parse(s)
	if err != nil {
		return ""
	}
	domain := parsed.Domain()
	if domain == nil {
		return ""
	}
	return domain.String()
}
