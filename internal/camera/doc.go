// Package camera ハードウェアに依存しないカメラ制御の契約と集約サーバーを提供する
//
// # 責務
// - カメラ・ドライバー・センサーの契約（Camera / Driver / Sensor）
// - 露光の状態機械（Device）と、その上に組み立てたブロッキング撮影（Capture）
// - 整数ハンドルで複数カメラを束ねる集約サーバー（DefaultManager）
// - エラー分類と、応答に載せるエラーコード
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 新しいカメラのバックエンドを追加したい（Sensor を実装して NewDevice に渡す）
// - 複数のカメラを型付きコマンドで操作したい（Manager.Dispatch）
//
// # 仕様
// - 露光状態は idle → exposing → ready_for_download → idle と遷移する
// - exposing → ready_for_download の遷移は ImageReady か DownloadImage の中でのみ起きる
// - プロパティ値は必ずカタログの値域で検証され、丸められることはない
// - Camera 自体はスレッドセーフではない。Manager がハンドル単位で直列化する
// - 異なるハンドルへのディスパッチは並行に実行される
package camera
