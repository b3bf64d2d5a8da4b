//go:build !windows

package objects

import "strconv"

// ulongSize is sizeof(CK_ULONG). It follows the C unsigned long, which
// has the width of a pointer outside Windows.
const ulongSize = strconv.IntSize / 8
