// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

// Fragment is one radio frame as received, or one reassembly slot holding
// the payload part of a frame.
type Fragment struct {
	Data        [MaxRFPayloadSize]byte
	Len         uint8
	Channel     uint8
	RSSI        int8
	MainCmd     uint8
	WasReceived bool
}

// NewFragment copies data (truncated to MaxRFPayloadSize) into a fragment.
func NewFragment(data []byte, channel uint8, rssi int8) Fragment {
	var f Fragment
	f.Len = uint8(copy(f.Data[:], data))
	f.Channel = channel
	f.RSSI = rssi
	return f
}

// Bytes returns the valid part of Data.
func (f *Fragment) Bytes() []byte {
	return f.Data[:f.Len]
}

func (f *Fragment) Command() uint8 {
	return f.Data[0]
}

// TargetMatches reports whether bytes 1..4 address s.
func (f *Fragment) TargetMatches(s Serial) bool {
	a := s.AddressBytes()
	return f.Len > 4 && f.Data[1] == a[0] && f.Data[2] == a[1] && f.Data[3] == a[2] && f.Data[4] == a[3]
}

// RouterMatches reports whether bytes 5..8 address s.
func (f *Fragment) RouterMatches(s Serial) bool {
	a := s.AddressBytes()
	return f.Len > 8 && f.Data[5] == a[0] && f.Data[6] == a[1] && f.Data[7] == a[2] && f.Data[8] == a[3]
}

func (f *Fragment) FragmentID() uint8 {
	return f.Data[9] & fragmentIDMask
}

func (f *Fragment) IsLast() bool {
	return f.Data[9]&lastFragmentFlag != 0
}

// CRCValid checks the trailing CRC8 over the rest of the frame.
func (f *Fragment) CRCValid() bool {
	if f.Len < 2 {
		return false
	}
	return CRC8(f.Data[:f.Len-1]) == f.Data[f.Len-1]
}

// fragmentRing is the fixed-capacity receive buffer between the interrupt
// drain and fragment dispatch.
type fragmentRing struct {
	buf   [FragmentBufferSize]Fragment
	head  int
	count int
}

func (r *fragmentRing) Push(f Fragment) bool {
	if r.count == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.count)%len(r.buf)] = f
	r.count++
	return true
}

// Pop removes the oldest fragment.
func (r *fragmentRing) Pop() (Fragment, bool) {
	if r.count == 0 {
		return Fragment{}, false
	}
	f := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return f, true
}

func (r *fragmentRing) Full() bool { return r.count == len(r.buf) }

func (r *fragmentRing) Len() int { return r.count }
