// Package layout defines the layout model rendered by player devices and
// the collaborator interfaces the distribution pipeline consumes: layout
// storage, external data sources, and media assets.
package layout

// ElementKind identifies the type of a layout element.
type ElementKind string

const (
	KindText  ElementKind = "text"
	KindImage ElementKind = "image"
	KindShape ElementKind = "shape"
	KindGroup ElementKind = "group"
)

// Definition is a layout as authored in the editor: a tree of positioned
// elements plus the external data sources it draws from.
type Definition struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`

	// DataSources are the external feeds referenced by template
	// expressions in the layout's text elements.
	DataSources []DataSourceRef `json:"data_sources,omitempty"`

	Elements []*Element `json:"elements,omitempty"`
}

// Element is one node of the layout tree. Text elements may contain
// template expressions in Content; image elements reference a media
// asset by name and receive the asset bytes inlined as AssetData before
// delivery.
type Element struct {
	ID      string      `json:"id"`
	Kind    ElementKind `json:"kind"`
	X       int         `json:"x,omitempty"`
	Y       int         `json:"y,omitempty"`
	Width   int         `json:"width,omitempty"`
	Height  int         `json:"height,omitempty"`
	Content string      `json:"content,omitempty"`

	// AssetName references a media asset for image elements. AssetData is
	// the transfer-safe base64 encoding of the asset bytes, filled in by
	// the distribution pipeline. An element whose asset could not be
	// loaded is delivered without AssetData and the device shows a
	// placeholder.
	AssetName string `json:"asset_name,omitempty"`
	AssetData string `json:"asset_data,omitempty"`

	Style map[string]string `json:"style,omitempty"`

	Children []*Element `json:"children,omitempty"`
}

// DataSourceRef names an external data feed used by a layout.
type DataSourceRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Clone returns a deep copy of the definition. The pipeline mutates its
// working copy (rendered text, inlined assets) and must never write
// through to the stored layout.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	out.DataSources = append([]DataSourceRef(nil), d.DataSources...)
	out.Elements = cloneElements(d.Elements)
	return &out
}

func cloneElements(els []*Element) []*Element {
	if els == nil {
		return nil
	}
	out := make([]*Element, len(els))
	for i, el := range els {
		c := *el
		if el.Style != nil {
			c.Style = make(map[string]string, len(el.Style))
			for k, v := range el.Style {
				c.Style[k] = v
			}
		}
		c.Children = cloneElements(el.Children)
		out[i] = &c
	}
	return out
}

// Walk visits every element in the tree in depth-first order.
func (d *Definition) Walk(fn func(*Element)) {
	walkElements(d.Elements, fn)
}

func walkElements(els []*Element, fn func(*Element)) {
	for _, el := range els {
		fn(el)
		walkElements(el.Children, fn)
	}
}
