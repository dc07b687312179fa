package portal

// Paths below the portal, IAAA and video API base URLs.
const (
	IAAALoginPath   = "/iaaa/oauthlogin.do"
	SSOLoginPath    = "/webapps/bb-sso-BBLEARN/execute/authValidate/campusLogin"
	HomePath        = "/webapps/portal/execute/tabs/tabAction"
	CoursePagePath  = "/webapps/blackboard/execute/announcement"
	ListContentPath = "/webapps/blackboard/content/listContent.jsp"
	AssignmentPath  = "/webapps/assignment/uploadAssignment"
	VideoListPath   = "/webapps/bb-streammedia-hqy-BBLEARN/videoList.action"
	SubInfoPath     = "/courseapi/v2/schedule/get-sub-info-by-auth-data"
	iaaaAppID       = "blackboard"
)

// Navigation entries with special handling.
const (
	AnnouncementEntry = "课程通知"
	VideoEntry        = "课堂实录"
)
