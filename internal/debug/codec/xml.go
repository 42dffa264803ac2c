package codec

import (
	"encoding/base64"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// Element is a generic XML element. Names are matched on their local
// part so namespaced elements such as xdebug:message resolve as message.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*Element `xml:",any"`
}

// Name returns the local element name.
func (e *Element) Name() string {
	return e.XMLName.Local
}

// Attr returns the value of the attribute with the given local name.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or def when it is absent.
func (e *Element) AttrOr(name, def string) string {
	if v, ok := e.Attr(name); ok {
		return v
	}
	return def
}

// Child returns the first direct child with the given local name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ParseXML sanitizes and parses a DBGp payload.
func ParseXML(payload []byte) (*Element, error) {
	dec := xml.NewDecoder(strings.NewReader(Sanitize(string(payload))))
	// Engines declare iso-8859-1 but send UTF-8, which Sanitize has
	// already enforced.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) {
		return r, nil
	}

	var root Element
	if err := dec.Decode(&root); err != nil {
		return nil, &DecodeError{Format: "xml", Reason: "malformed document", Err: err}
	}
	return &root, nil
}

// ResponseError returns the message of an <error> child, if present.
func ResponseError(e *Element) (string, bool) {
	errElem := e.Child("error")
	if errElem == nil {
		return "", false
	}
	msg := "error"
	if m := errElem.Child("message"); m != nil && m.Text != "" {
		msg = m.Text
	}
	return msg, true
}

// ParseProperties converts the <property> children of e into a property
// map. Anonymous properties and <error> elements are stored under
// defaultKey and dropped when it is empty.
func ParseProperties(e *Element, defaultKey string) *Properties {
	props := NewProperties()
	for _, child := range e.Children {
		switch child.Name() {
		case "property":
			name := child.AttrOr("fullname", child.AttrOr("name", ""))
			key := name
			if name != "" {
				if name == "::" || strings.Count(name, "::") > 1 {
					continue
				}
			} else {
				key = defaultKey
			}
			if key == "" {
				continue
			}
			props.Set(key, parseProperty(child, name, defaultKey))

		case "error":
			if defaultKey == "" {
				continue
			}
			msg := "error"
			if m := child.Child("message"); m != nil && m.Text != "" {
				msg = m.Text
			}
			props.Set(defaultKey, &Property{Type: msg})
		}
	}
	return props
}

func parseProperty(e *Element, name, defaultKey string) *Property {
	p := &Property{
		Name:  name,
		Type:  e.AttrOr("type", ""),
		Value: propertyValue(e),
	}
	if n, err := strconv.Atoi(e.AttrOr("numchildren", "")); err == nil {
		p.NumChildren = &n
	}
	if e.AttrOr("children", "0") == "1" {
		p.Children = ParseProperties(e, defaultKey)
	}
	if cls, ok := e.Attr("classname"); ok && cls != "" && p.Type == "object" {
		p.Type = cls
	}
	return p
}

func propertyValue(e *Element) string {
	text := e.Text
	if len(e.Children) > 0 && strings.TrimSpace(text) == "" {
		return ""
	}
	if e.AttrOr("encoding", "") != "base64" {
		return text
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return text
	}
	return string(decoded)
}
