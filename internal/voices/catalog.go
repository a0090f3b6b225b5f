// Package voices lists the speakers a client may request.
package voices

import (
	"github.com/loqalabs/loqa-tts/internal/config"
)

// Voice describes one selectable speaker.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var defaults = []Voice{
	{ID: "female-shaonv", Name: "女声-少女", Description: "清甜少女音"},
	{ID: "female-yujie", Name: "女声-御姐", Description: "成熟御姐音"},
	{ID: "male-qingshu", Name: "男声-青叔", Description: "年轻男性音"},
	{ID: "male-dashu", Name: "男声-大叔", Description: "成熟男性音"},
	{ID: "audiobook_female_1", Name: "女声- audiobook", Description: "适合朗读的女声"},
	{ID: "audiobook_male_1", Name: "男声- audiobook", Description: "适合朗读的男声"},
}

// Catalog is an immutable speaker list. Requests are not checked against it;
// engines decide what an unknown speaker id means.
type Catalog struct {
	voices []Voice
	byID   map[string]int
}

// New builds a catalog from configured voices, or the built-in list when
// none are configured.
func New(configured []config.Voice) *Catalog {
	list := defaults
	if len(configured) > 0 {
		list = make([]Voice, 0, len(configured))
		for _, v := range configured {
			list = append(list, Voice{ID: v.ID, Name: v.Name, Description: v.Description})
		}
	}
	c := &Catalog{voices: make([]Voice, 0, len(list)), byID: make(map[string]int, len(list))}
	for _, v := range list {
		if _, dup := c.byID[v.ID]; dup {
			continue
		}
		if v.Name == "" {
			v.Name = v.ID
		}
		c.byID[v.ID] = len(c.voices)
		c.voices = append(c.voices, v)
	}
	return c
}

// List returns the voices in catalog order.
func (c *Catalog) List() []Voice {
	return append([]Voice(nil), c.voices...)
}

func (c *Catalog) Lookup(id string) (Voice, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Voice{}, false
	}
	return c.voices[i], true
}

func (c *Catalog) Len() int { return len(c.voices) }
