package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"gencam/internal/property"
)

var (
	// ErrUnknownControl はカタログに存在しない識別子が指定された場合のエラー
	ErrUnknownControl = errors.New("未知のコントロール")
	// ErrDuplicateControl は同じ識別子を二重に登録しようとした場合のエラー
	ErrDuplicateControl = errors.New("コントロールが重複しています")
)

// Catalog は識別子から値域モデルへの対応表
//
// ゼロ値は空のカタログとして読み取りに使える。書き込みには NewCatalog を使う
type Catalog struct {
	models map[ID]property.Model
}

// NewCatalog は空のカタログを作成する
func NewCatalog() *Catalog {
	return &Catalog{models: make(map[ID]property.Model)}
}

// Add はコントロールを登録する
func (c *Catalog) Add(id ID, model property.Model) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if !model.Kind().Valid() {
		return fmt.Errorf("コントロール %s: %w", id, property.ErrInvalidModel)
	}
	if c.models == nil {
		c.models = make(map[ID]property.Model)
	}
	if _, exists := c.models[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateControl, id)
	}
	c.models[id] = model
	return nil
}

// MustAdd は Add に失敗したら panic する。ドライバーの静的な初期化用
func (c *Catalog) MustAdd(id ID, model property.Model) *Catalog {
	if err := c.Add(id, model); err != nil {
		panic(err)
	}
	return c
}

// Len は登録済みコントロール数を返す
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.models)
}

// Has は識別子が登録済みかを返す
func (c *Catalog) Has(id ID) bool {
	if c == nil {
		return false
	}
	_, ok := c.models[id]
	return ok
}

// Get は識別子に対応するモデルを返す
func (c *Catalog) Get(id ID) (property.Model, error) {
	if c == nil {
		return property.Model{}, fmt.Errorf("%w: %s", ErrUnknownControl, id)
	}
	model, ok := c.models[id]
	if !ok {
		return property.Model{}, fmt.Errorf("%w: %s", ErrUnknownControl, id)
	}
	return model, nil
}

// Current は識別子の現在値を返す
func (c *Catalog) Current(id ID) (property.Value, error) {
	model, err := c.Get(id)
	if err != nil {
		return property.Value{}, err
	}
	return model.Current(), nil
}

// Validate は値を書き込めるかどうかをカタログを変更せずに検証する
func (c *Catalog) Validate(id ID, v property.Value) error {
	model, err := c.Get(id)
	if err != nil {
		return err
	}
	if err := property.Validate(model, v); err != nil {
		return fmt.Errorf("コントロール %s: %w", id, err)
	}
	return nil
}

// Set は検証に通った場合のみ現在値を更新する。失敗時はカタログを変更しない
func (c *Catalog) Set(id ID, v property.Value) error {
	model, err := c.Get(id)
	if err != nil {
		return err
	}
	updated, err := model.With(v)
	if err != nil {
		return fmt.Errorf("コントロール %s: %w", id, err)
	}
	c.models[id] = updated
	return nil
}

// Replace は読み取り専用を含むモデルをドライバー側から差し替える
//
// センサー温度のようにハードウェアが更新する値に使う
func (c *Catalog) Replace(id ID, model property.Model) error {
	if !c.Has(id) {
		return fmt.Errorf("%w: %s", ErrUnknownControl, id)
	}
	if model.Kind() != c.models[id].Kind() {
		return fmt.Errorf("コントロール %s: 種類を %s から %s に変更できません: %w",
			id, c.models[id].Kind(), model.Kind(), property.ErrInvalidModel)
	}
	c.models[id] = model
	return nil
}

// IDs は識別子をグループの表示順、名前順に並べて返す
func (c *Catalog) IDs() []ID {
	if c == nil {
		return nil
	}
	ids := lo.Keys(c.models)
	slices.SortFunc(ids, less)
	return ids
}

// Group は指定グループのコントロールを返す
func (c *Catalog) Group(g Group) []ID {
	return lo.Filter(c.IDs(), func(id ID, _ int) bool {
		return id.Group == g
	})
}

// Values は全コントロールの現在値を返す
func (c *Catalog) Values() map[ID]property.Value {
	if c == nil {
		return map[ID]property.Value{}
	}
	return lo.MapValues(c.models, func(m property.Model, _ ID) property.Value {
		return m.Current()
	})
}

// Clone はカタログの独立したコピーを返す
func (c *Catalog) Clone() *Catalog {
	if c == nil {
		return NewCatalog()
	}
	return &Catalog{models: maps.Clone(c.models)}
}

// MarshalJSON は "group/name" をキーとするオブジェクトにする
func (c *Catalog) MarshalJSON() ([]byte, error) {
	if c == nil || c.models == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.models)
}

// UnmarshalJSON は JSON からカタログを復元する
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var models map[ID]property.Model
	if err := json.Unmarshal(data, &models); err != nil {
		return err
	}
	if models == nil {
		models = make(map[ID]property.Model)
	}
	c.models = models
	return nil
}

// MarshalYAML は "group/name" をキーとするマップにする
func (c *Catalog) MarshalYAML() (any, error) {
	out := make(map[string]property.Model, c.Len())
	for _, id := range c.IDs() {
		out[id.String()] = c.models[id]
	}
	return out, nil
}

// UnmarshalYAML は YAML からカタログを復元する
func (c *Catalog) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]property.Model
	if err := node.Decode(&raw); err != nil {
		return err
	}
	models := make(map[ID]property.Model, len(raw))
	for key, model := range raw {
		id, err := Parse(key)
		if err != nil {
			return err
		}
		models[id] = model
	}
	c.models = models
	return nil
}
