// Package control カメラコントロールの識別子とカタログを提供する
//
// # 責務
// - コントロールがカメラのどの側面に作用するかを表す識別子（ID）
// - 識別子から値域モデルへの対応表（Catalog）の保持と検証付き更新
//
// # 仕様
// - ID はグループと名前の組で、map のキーとして使える
// - ID は "group/name" 形式のテキストとしてエンコードされる
// - Catalog はスレッドセーフではない。所有するカメラが操作を直列化すること
package control

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidID は識別子の形式が不正な場合のエラー
var ErrInvalidID = errors.New("不正なコントロール識別子")

// Group はコントロールが作用するカメラの側面
type Group string

const (
	GroupDevice    Group = "device"     // デバイス全体
	GroupSensor    Group = "sensor"     // センサー
	GroupTrigger   Group = "trigger"    // トリガー
	GroupExposure  Group = "exposure"   // 露光
	GroupFrameTime Group = "frame_time" // フレーム時間
	GroupAnalog    Group = "analog"     // アナログ処理
	GroupDigitalIO Group = "digital_io" // デジタル入出力
)

// Groups は全グループを表示順に並べたもの
var Groups = []Group{
	GroupDevice,
	GroupSensor,
	GroupTrigger,
	GroupExposure,
	GroupFrameTime,
	GroupAnalog,
	GroupDigitalIO,
}

// Valid は既知のグループかどうかを返す
func (g Group) Valid() bool {
	return g.order() >= 0
}

func (g Group) order() int {
	for i, known := range Groups {
		if known == g {
			return i
		}
	}
	return -1
}

const maxNameLength = 32

// ID はコントロールの識別子
type ID struct {
	Group Group
	Name  string
}

// New は識別子を作成する
func New(group Group, name string) ID {
	return ID{Group: group, Name: name}
}

// Parse は "group/name" 形式の文字列から識別子を復元する
func Parse(s string) (ID, error) {
	group, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q に区切り '/' がありません", ErrInvalidID, s)
	}
	id := ID{Group: Group(group), Name: name}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Validate は識別子の形式を検証する
func (id ID) Validate() error {
	if !id.Group.Valid() {
		return fmt.Errorf("%w: 未知のグループ %q", ErrInvalidID, id.Group)
	}
	if id.Name == "" || len(id.Name) > maxNameLength {
		return fmt.Errorf("%w: 名前の長さは 1〜%d 文字です: %q", ErrInvalidID, maxNameLength, id.Name)
	}
	for _, r := range id.Name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return fmt.Errorf("%w: 名前に使えない文字 %q: %q", ErrInvalidID, r, id.Name)
		}
	}
	return nil
}

// String は "group/name" 形式の文字列を返す
func (id ID) String() string {
	return string(id.Group) + "/" + id.Name
}

// MarshalText は識別子をテキストにする。JSON のマップキーにも使われる
func (id ID) MarshalText() ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}

// UnmarshalText はテキストから識別子を復元する
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// less はグループの表示順、次に名前で比較する
func less(a, b ID) int {
	if oa, ob := a.Group.order(), b.Group.order(); oa != ob {
		return oa - ob
	}
	return strings.Compare(a.Name, b.Name)
}
