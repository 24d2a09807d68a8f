package validation

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
)

// Identifier shape shared by every entity: 24 lowercase hex characters.
var idPattern = regexp.MustCompile(`^[a-f0-9]{24}$`)

const DefaultLimit = 100

func IsValidId(id string) bool {
	return idPattern.MatchString(id)
}

// CheckIds reports ErrInvalidId on the first malformed identifier. A
// well-formed but unknown id is not this layer's concern; existence is
// checked later so that Invalid Format and Not Found are never conflated.
func CheckIds(ids ...string) error {
	for _, id := range ids {
		if !IsValidId(id) {
			return apierrors.ErrInvalidId
		}
	}
	return nil
}

// QueryOptions is the bounded data-fetch plan derived from the collection
// query surface: ?sort=<field|-field>&fields=<f1,f2>&page=<n>&limit=<n>.
type QueryOptions struct {
	SortField string
	SortDesc  bool
	Fields    []string
	Page      int
	Limit     int
}

// ParseQueryOptions normalizes the collection query parameters against a
// whitelist of attribute names. Unrecognized sort/fields names are dropped
// rather than rejected; unparsable or non-positive page/limit fall back to
// page 1 and the hard cap.
func ParseQueryOptions(r *http.Request, allowedFields ...string) QueryOptions {
	q := r.URL.Query()
	options := QueryOptions{Page: 1, Limit: DefaultLimit}

	if sort := q.Get("sort"); sort != "" {
		field := sort
		if strings.HasPrefix(sort, "-") {
			field = strings.TrimPrefix(sort, "-")
		}
		if fieldAllowed(field, allowedFields) {
			options.SortField = field
			options.SortDesc = strings.HasPrefix(sort, "-")
		}
	}

	if fields := q.Get("fields"); fields != "" {
		for _, f := range strings.Split(fields, ",") {
			f = strings.TrimSpace(f)
			if fieldAllowed(f, allowedFields) {
				options.Fields = append(options.Fields, f)
			}
		}
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		options.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit < DefaultLimit {
		options.Limit = limit
	}

	return options
}

// Selected reports whether a field survives the projection. An empty
// projection keeps everything; id is always included by the transports.
func (o QueryOptions) Selected(field string) bool {
	if len(o.Fields) == 0 {
		return true
	}
	for _, f := range o.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Offset translates page/limit into the query offset.
func (o QueryOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

func fieldAllowed(field string, allowed []string) bool {
	for _, a := range allowed {
		if field == a {
			return true
		}
	}
	return false
}
