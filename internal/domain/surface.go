package domain

// Surface is one navigable screen owned by a coordinator.
type Surface string

const (
	SurfaceCall            Surface = "call"
	SurfaceChat            Surface = "chat"
	SurfaceVisitorCode     Surface = "visitor_code"
	SurfaceSecureMessaging Surface = "secure_messaging"
)

// Bubbles reports whether the surface may be represented by the bubble when
// it is not foregrounded.
func (s Surface) Bubbles() bool {
	return s == SurfaceCall || s == SurfaceVisitorCode
}

// BubblePosition is where the minimized overlay sits on the host surface.
type BubblePosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// OverlayMode is the tag of an OverlayState.
type OverlayMode string

const (
	OverlayHidden       OverlayMode = "hidden"
	OverlayBubble       OverlayMode = "bubble"
	OverlayForegrounded OverlayMode = "foregrounded"
)

// OverlayState is hidden | bubble(position) | foregrounded(surface).
type OverlayState struct {
	Mode     OverlayMode    `json:"mode"`
	Position BubblePosition `json:"position"`
	Surface  Surface        `json:"surface,omitempty"`
}

func HiddenOverlay() OverlayState {
	return OverlayState{Mode: OverlayHidden}
}

func BubbleOverlay(pos BubblePosition) OverlayState {
	return OverlayState{Mode: OverlayBubble, Position: pos}
}

func ForegroundOverlay(surface Surface) OverlayState {
	return OverlayState{Mode: OverlayForegrounded, Surface: surface}
}

// NoticeKind identifies a transient, auto-dismissing notification.
type NoticeKind string

const (
	NoticeUpgradeDeclined    NoticeKind = "upgrade_declined"
	NoticeUpgradeExpired     NoticeKind = "upgrade_expired"
	NoticeUpgradeFailed      NoticeKind = "upgrade_failed"
	NoticeConnectingSlow     NoticeKind = "connecting_slow"
	NoticeOperatorOnHold     NoticeKind = "visitor_on_hold"
	NoticeTransferring       NoticeKind = "transferring"
	NoticeRequestExpired     NoticeKind = "request_expired"
	NoticeMessageSendFailed  NoticeKind = "message_send_failed"
	NoticeScreenShareStarted NoticeKind = "screen_share_started"
	NoticeMediaFailed        NoticeKind = "media_failed"
)

// Notice is a snack-bar style message.
type Notice struct {
	ID   string     `json:"id"`
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// AlertKind identifies a blocking dialog.
type AlertKind string

const (
	AlertSessionFailed        AlertKind = "session_failed"
	AlertOperatorEnded        AlertKind = "operator_ended"
	AlertMediaPermission      AlertKind = "media_permission"
	AlertObservationConfirm   AlertKind = "observation_confirm"
	AlertSurfaceUnavailable   AlertKind = "surface_unavailable"
	AlertEngagementInProgress AlertKind = "engagement_in_progress"
)

// Alert is a blocking dialog. Accept runs on the primary action; Decline, when
// set, on the secondary one. Single-acknowledgement alerts leave Decline nil.
type Alert struct {
	Kind    AlertKind
	Message string
	Accept  func()
	Decline func()
}

// SiteConfiguration carries the site flags the core consults.
type SiteConfiguration struct {
	SiteID                          string `json:"siteId"`
	ObservationConfirmationRequired bool   `json:"observationConfirmationRequired"`
	ObservationIndicatorEnabled     bool   `json:"observationIndicatorEnabled"`
}

// VisitorCode is the code a visitor reads out to an operator so the operator
// can start a call-visualizer engagement.
type VisitorCode struct {
	Code      string `json:"code"`
	ExpiresIn int    `json:"expiresIn"`
}

// Status summarizes the current engagement for the host.
type Status struct {
	State   string       `json:"state"`
	Active  bool         `json:"active"`
	Overlay OverlayState `json:"overlay"`
	Message string       `json:"message,omitempty"`
}
