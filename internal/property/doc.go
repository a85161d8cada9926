// Package property カメラコントロールの値域モデルと値の検証を担う
//
// # 責務
// - 値域（整数範囲・浮動小数点範囲・列挙・真偽値）の記述
// - 候補値の検証と、理由付きの拒否
// - 値域と値の構造化エンコーディング（JSON / YAML）
//
// # 仕様
// - Model はコンストラクタ経由でのみ生成され、不正な状態では存在しない
// - Validate は純粋関数であり、パニックしない
// - 範囲外の値はクランプせず、常に拒否する
// - 拒否理由は out_of_range / off_step / not_in_enum / wrong_kind / read_only のいずれか
package property
