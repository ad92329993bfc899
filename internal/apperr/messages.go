package apperr

const (
	CodeInvalidData           = "invalid_data"
	CodeInternal              = "internal_error"
	CodeDuplicateStudentID    = "duplicate_student_id"
	CodeDuplicateEmail        = "duplicate_email"
	CodeDuplicateUsername     = "duplicate_username"
	CodeInvalidCredentials    = "invalid_credentials"
	CodeUnauthenticated       = "unauthenticated"
	CodeForbidden             = "forbidden"
	CodeStudentNotFound       = "student_not_found"
	CodeMarketSessionNotFound = "market_session_not_found"
	CodeInvalidBackup         = "invalid_backup"
	CodeTooManyRequests       = "too_many_requests"
	CodeRouteNotFound         = "route_not_found"
)

var catalog = map[string]map[string]string{
	"en": {
		CodeInvalidData:           "Invalid data",
		CodeInternal:              "Server error",
		CodeDuplicateStudentID:    "Student ID is already in use",
		CodeDuplicateEmail:        "Email is already in use",
		CodeDuplicateUsername:     "Username is already in use",
		CodeInvalidCredentials:    "Student ID or password is incorrect",
		CodeUnauthenticated:       "Not logged in",
		CodeForbidden:             "Access denied",
		CodeStudentNotFound:       "Student not found",
		CodeMarketSessionNotFound: "Market session not found",
		CodeInvalidBackup:         "Invalid backup file",
		CodeTooManyRequests:       "Too many login attempts, try again later",
		CodeRouteNotFound:         "API endpoint not found",
	},
	"vi": {
		CodeInvalidData:           "Dữ liệu không hợp lệ",
		CodeInternal:              "Lỗi server",
		CodeDuplicateStudentID:    "MSSV đã được sử dụng",
		CodeDuplicateEmail:        "Email đã được sử dụng",
		CodeDuplicateUsername:     "Tên đăng nhập đã được sử dụng",
		CodeInvalidCredentials:    "MSSV hoặc mật khẩu không đúng",
		CodeUnauthenticated:       "Chưa đăng nhập",
		CodeForbidden:             "Không có quyền truy cập",
		CodeStudentNotFound:       "Không tìm thấy sinh viên",
		CodeMarketSessionNotFound: "Không tìm thấy phiên chợ",
		CodeInvalidBackup:         "File sao lưu không hợp lệ",
		CodeTooManyRequests:       "Đăng nhập quá nhiều lần, vui lòng thử lại sau",
		CodeRouteNotFound:         "API endpoint not found",
	},
}

// Message returns the localized text for code, falling back to English and
// then to the code itself.
func Message(locale, code string) string {
	if msgs, ok := catalog[locale]; ok {
		if m, ok := msgs[code]; ok {
			return m
		}
	}
	if m, ok := catalog["en"][code]; ok {
		return m
	}
	return code
}
