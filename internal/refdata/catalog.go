// Package refdata はplaces・datasets・questionsの参照データカタログを提供する。
package refdata

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yesNoQuestionCount はフォーム上でyes/no形式として表示する先頭の質問数。
const yesNoQuestionCount = 9

//go:embed default.yaml
var defaultCatalogYAML []byte

// Country はセンサス全体の情報を表す。
type Country struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Place は調査対象の地域を表す。
type Place struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Dataset は調査対象のデータセットを表す。
type Dataset struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// Question は調査票の質問を表す。TypeはyesnoかURLかtext。
type Question struct {
	ID          string `yaml:"id"`
	Question    string `yaml:"question"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
}

// Catalog は読み取り専用の参照データのスナップショット。
// 生成後に変更してはならない。差し替えはStore.Reloadで行う。
type Catalog struct {
	Country   Country    `yaml:"country"`
	Places    []Place    `yaml:"places"`
	Datasets  []Dataset  `yaml:"datasets"`
	Questions []Question `yaml:"questions"`

	PlacesByID   map[string]Place   `yaml:"-"`
	DatasetsByID map[string]Dataset `yaml:"-"`
}

// Parse はYAMLからCatalogを生成し、ID索引を構築する。
// IDの重複や空IDはエラーとする。
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("refdata: catalog payload is empty")
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("refdata: decode catalog: %w", err)
	}

	c.PlacesByID = make(map[string]Place, len(c.Places))
	for _, p := range c.Places {
		if p.ID == "" {
			return nil, fmt.Errorf("refdata: place %q has no id", p.Name)
		}
		if _, dup := c.PlacesByID[p.ID]; dup {
			return nil, fmt.Errorf("refdata: duplicate place id %q", p.ID)
		}
		c.PlacesByID[p.ID] = p
	}

	c.DatasetsByID = make(map[string]Dataset, len(c.Datasets))
	for _, d := range c.Datasets {
		if d.ID == "" {
			return nil, fmt.Errorf("refdata: dataset %q has no id", d.Title)
		}
		if _, dup := c.DatasetsByID[d.ID]; dup {
			return nil, fmt.Errorf("refdata: duplicate dataset id %q", d.ID)
		}
		c.DatasetsByID[d.ID] = d
	}

	seen := make(map[string]struct{}, len(c.Questions))
	for _, q := range c.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("refdata: question %q has no id", q.Question)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("refdata: duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
	}

	return &c, nil
}

// LoadFile は指定パスのYAMLファイルからCatalogを読み込む。
func LoadFile(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: read %s: %w", path, err)
	}
	c, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("refdata: %s: %w", path, err)
	}
	return c, nil
}

// Default は埋め込みのデフォルトカタログを返す。
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// YesNoQuestions はyes/no形式で表示する先頭の質問を返す。
func (c *Catalog) YesNoQuestions() []Question {
	if len(c.Questions) <= yesNoQuestionCount {
		return c.Questions
	}
	return c.Questions[:yesNoQuestionCount]
}

// Place は指定IDのPlaceを返す。
func (c *Catalog) Place(id string) (Place, bool) {
	p, ok := c.PlacesByID[id]
	return p, ok
}

// Dataset は指定IDのDatasetを返す。
func (c *Catalog) Dataset(id string) (Dataset, bool) {
	d, ok := c.DatasetsByID[id]
	return d, ok
}
