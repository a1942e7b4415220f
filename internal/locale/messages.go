package locale

import "github.com/ds124wfegd/library-reservations/internal/entity"

// Email keys.
const (
	MailAssignedSubject = "mail.assigned.subject"
	MailAssignedHeading = "mail.assigned.heading"
	MailAssignedIntro   = "mail.assigned.intro"
	MailColTitle        = "mail.col.title"
	MailColAuthor       = "mail.col.author"
	MailColCode         = "mail.col.code"
	MailColExpiry       = "mail.col.expiry"
	MailAssignedFooter  = "mail.assigned.footer"
)

// Entity names interpolated into CodeNotFound.
const (
	NounReservation = "noun.reservation"
	NounItem        = "noun.item"
	NounInventory   = "noun.inventory"
	NounInstance    = "noun.instance"
	NounTask        = "noun.task"
)

type translation struct {
	en string
	vi string
}

var messages = map[string]translation{
	entity.CodeCreateSuccess: {"Created successfully", "Tạo thành công"},
	entity.CodeReadSuccess:   {"Retrieved successfully", "Lấy dữ liệu thành công"},
	entity.CodeUpdateSuccess: {"Updated successfully", "Cập nhật thành công"},
	entity.CodeAssignSuccess: {"Assigned %d item(s) to reservations", "Đã gán %d tài liệu cho đặt trước"},
	entity.CodeAllowReserve:  {"You can reserve this item", "Bạn có thể đặt trước tài liệu này"},
	entity.CodeAssignQueued:  {"Assignment of %d returned item(s) has been queued", "Đã đưa %d tài liệu trả về vào hàng đợi gán"},

	entity.CodeInvalidInput:          {"Invalid input: %s", "Dữ liệu không hợp lệ: %s"},
	entity.CodeNotFound:              {"%s not found", "Không tìm thấy %s"},
	entity.CodeForbidden:             {"You are not allowed to perform this action", "Bạn không có quyền thực hiện thao tác này"},
	entity.CodeUnauthorized:          {"Authentication required", "Yêu cầu đăng nhập"},
	entity.CodeReserveNotNeeded:      {"This item is available, please borrow it directly", "Tài liệu đang có sẵn, vui lòng mượn trực tiếp"},
	entity.CodeNoLibraryCard:         {"You need a library card to reserve items", "Bạn cần có thẻ thư viện để đặt trước"},
	entity.CodeAlreadyReserved:       {"You already have an active reservation for this item", "Bạn đã có đặt trước đang hoạt động cho tài liệu này"},
	entity.CodeAlreadyBorrowing:      {"You are currently borrowing this item", "Bạn đang mượn tài liệu này"},
	entity.CodeAlreadyRequested:      {"You already have an open borrow request for this item", "Bạn đã có yêu cầu mượn cho tài liệu này"},
	entity.CodeQuotaExceeded:         {"You have reached the maximum of %d active items", "Bạn đã đạt tối đa %d tài liệu đang hoạt động"},
	entity.CodeNotAssignable:         {"This reservation cannot be assigned", "Không thể gán đặt trước này"},
	entity.CodeInstanceNotOutOfShelf: {"Item copy %d must be out of shelf to be assigned", "Bản sao %d phải ở trạng thái ngoài kệ để gán"},
	entity.CodeInstanceMismatch:      {"Item copy %d does not belong to the reserved item", "Bản sao %d không thuộc tài liệu đã đặt trước"},
	entity.CodeInvalidStatus:         {"Reservation status %s does not allow this action", "Trạng thái đặt trước %s không cho phép thao tác này"},

	entity.CodeAssignFailed:         {"No reservation could be assigned", "Không có đặt trước nào được gán"},
	entity.CodeCodeGenerationFailed: {"Failed to generate reservation code", "Không thể tạo mã đặt trước"},
	entity.CodeInternal:             {"Unexpected error, please try again later", "Đã xảy ra lỗi, vui lòng thử lại sau"},

	NounReservation: {"Reservation", "đặt trước"},
	NounItem:        {"Item", "tài liệu"},
	NounInventory:   {"Item inventory", "tồn kho tài liệu"},
	NounInstance:    {"Item copy %d", "bản sao %d"},
	NounTask:        {"Task", "tác vụ"},

	MailAssignedSubject: {"Your reserved items are ready for pickup", "Tài liệu đặt trước của bạn đã sẵn sàng"},
	MailAssignedHeading: {"Reserved items ready", "Tài liệu đặt trước đã sẵn sàng"},
	MailAssignedIntro:   {"Hello %s, the following items are waiting for you at the circulation desk.", "Xin chào %s, các tài liệu sau đang chờ bạn tại quầy lưu thông."},
	MailColTitle:        {"Title", "Nhan đề"},
	MailColAuthor:       {"Author", "Tác giả"},
	MailColCode:         {"Pickup code", "Mã nhận"},
	MailColExpiry:       {"Pick up before", "Nhận trước ngày"},
	MailAssignedFooter:  {"Reservations not collected before the date above will expire.", "Đặt trước không được nhận trước ngày trên sẽ hết hạn."},
}
