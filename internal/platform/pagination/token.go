package pagination

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeToken serialises a zero-based offset into a page token. A non-positive
// offset yields an empty token, meaning the first page.
func EncodeToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return strconv.Itoa(offset)
}

// DecodeToken parses the page token produced by EncodeToken back into an offset.
func DecodeToken(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPageToken, token)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidPageToken)
	}
	return offset, nil
}

// NextToken returns the token for the page following params, assuming the
// current page came back full. Callers emit it only in that case.
func NextToken(params Params) string {
	return EncodeToken(params.Offset + params.PageSize)
}
