package superset

import (
	"strconv"
	"strings"
)

// filter is one entry of a Superset list query
type filter struct {
	Col   string
	Opr   string
	Value interface{}
}

// risonString always quotes, which is valid rison for any string
func risonString(s string) string {
	s = strings.ReplaceAll(s, "!", "!!")
	s = strings.ReplaceAll(s, "'", "!'")
	return "'" + s + "'"
}

func risonValue(v interface{}) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "!t"
		}
		return "!f"
	case string:
		return risonString(t)
	default:
		return "!n"
	}
}

// listQuery renders the rison q parameter for a filtered, paged list call:
// (filters:!((col:x,opr:eq,value:'y')),page:0,page_size:100)
func listQuery(filters []filter, page, pageSize int) string {
	var b strings.Builder
	b.WriteString("(filters:!(")
	for i, f := range filters {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(col:")
		b.WriteString(f.Col)
		b.WriteString(",opr:")
		b.WriteString(f.Opr)
		b.WriteString(",value:")
		b.WriteString(risonValue(f.Value))
		b.WriteString(")")
	}
	b.WriteString("),page:")
	b.WriteString(strconv.Itoa(page))
	b.WriteString(",page_size:")
	b.WriteString(strconv.Itoa(pageSize))
	b.WriteString(")")
	return b.String()
}
