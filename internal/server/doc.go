// Package server は、集約サーバーを HTTP で公開します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// カメラの接続と解除、コマンドのディスパッチを担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - ドライバーのデバイス一覧と接続
//   - ハンドル宛てのコマンドのディスパッチ
//   - 撮影画像の FITS での配信と保存
//   - プリセットの保存と適用
//   - 撮影シーケンスの開始と停止
//   - Prometheus メトリクスの公開
//
// 仕様:
//   - HTTP フレームワークは gin を使用
//   - ディスパッチの応答はエラーを含めて常に Reply の JSON
//   - エラーコードから HTTP ステータスを決める
//   - グレースフルシャットダウンに対応
package server
