package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Lang
	}{
		{name: "empty header", header: "", want: English},
		{name: "bare vietnamese", header: "vi", want: Vietnamese},
		{name: "regional vietnamese", header: "vi-VN,vi;q=0.9,en;q=0.8", want: Vietnamese},
		{name: "english preferred", header: "en-US,en;q=0.9,vi;q=0.5", want: English},
		{name: "unsupported falls back", header: "ja-JP", want: English},
		{name: "garbage", header: ";;;", want: English},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.header))
		})
	}
}

func TestMsg(t *testing.T) {
	assert.Equal(t, "Assigned 3 item(s) to reservations", Msg(English, entity.CodeAssignSuccess, 3))
	assert.Equal(t, "Đã gán 3 tài liệu cho đặt trước", Msg(Vietnamese, entity.CodeAssignSuccess, 3))
	assert.Equal(t, "You have reached the maximum of 5 active items", Msg(English, entity.CodeQuotaExceeded, 5))
	assert.Equal(t, "You can reserve this item", Msg(Lang("fr"), entity.CodeAllowReserve))
}

func TestNotFoundNamesEntityInLanguage(t *testing.T) {
	tests := []struct {
		lang Lang
		noun string
		args []interface{}
		want string
	}{
		{lang: English, noun: NounReservation, want: "Reservation not found"},
		{lang: Vietnamese, noun: NounReservation, want: "Không tìm thấy đặt trước"},
		{lang: English, noun: NounInstance, args: []interface{}{7}, want: "Item copy 7 not found"},
		{lang: Vietnamese, noun: NounInstance, args: []interface{}{7}, want: "Không tìm thấy bản sao 7"},
		{lang: Vietnamese, noun: NounItem, want: "Không tìm thấy tài liệu"},
	}

	for _, tt := range tests {
		t.Run(string(tt.lang)+"/"+tt.noun, func(t *testing.T) {
			assert.Equal(t, tt.want, Msg(tt.lang, entity.CodeNotFound, Msg(tt.lang, tt.noun, tt.args...)))
		})
	}
}

func TestEveryResultCodeHasBothTranslations(t *testing.T) {
	for key, m := range messages {
		assert.NotEmpty(t, m.en, key)
		assert.NotEmpty(t, m.vi, key)
	}
}
