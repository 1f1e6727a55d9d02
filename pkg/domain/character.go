package domain

import (
	"fmt"
)

// 性別・年齢の列挙値です。analyze 応答の契約に合わせた小文字文字列を使います。
const (
	GenderMale   = "male"
	GenderFemale = "female"

	AgeChild = "child"
	AgeAdult = "adult"
)

// Character は絵本に登場するキャラクターの音声プロファイルを保持します。
// analyze ステージが生成し、synthesize ステージが消費します。
type Character struct {
	Gender string `json:"gender"` // male / female
	Age    string `json:"age"`    // child / adult
	Voice  string `json:"voice"`  // 音声合成エンジンのボイス識別子
}

// CharactersMap はキャラクター名をキーとした検索用マップです。キーは一意です。
type CharactersMap = map[string]Character

// Validate は列挙値の範囲を検証します。
func (c Character) Validate() error {
	switch c.Gender {
	case GenderMale, GenderFemale:
	default:
		return fmt.Errorf("gender の値が不正です: %q", c.Gender)
	}
	switch c.Age {
	case AgeChild, AgeAdult:
	default:
		return fmt.Errorf("age の値が不正です: %q", c.Age)
	}
	return nil
}

// String はキャラクターの情報を文字列で返すのだ。
func (c Character) String() string {
	return fmt.Sprintf("%s/%s (%s)", c.Gender, c.Age, c.Voice)
}

// CopyCharactersMap はマップの防御的コピーを行うヘルパーです。
// 現在の本のデータは参照共有で再生エンジンに渡すため、変更したい側がコピーを取ります。
func CopyCharactersMap(src map[string]Character) map[string]Character {
	if src == nil {
		return nil
	}
	copied := make(map[string]Character, len(src))
	for k, v := range src {
		copied[k] = v
	}
	return copied
}
