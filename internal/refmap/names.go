package refmap

import "strconv"

func hexU64(v uint64) string {
	return strconv.FormatUint(v, 16)
}

// signedDelta formats addr-base as a signed decimal delta, matching the
// "<a-rbp>" component of a synthesized stack/parameter reference name.
func signedDelta(addr, base uint64) string {
	if addr >= base {
		return strconv.FormatUint(addr-base, 10)
	}

	return "-" + strconv.FormatUint(base-addr, 10)
}
