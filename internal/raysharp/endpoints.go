package raysharp

// RaySharp HTTP/JSON API endpoints. All calls are POST with the envelope
// {"version":"1.0","data":{...}}.
const (
	EndpointLogin     = "/API/Web/Login"
	EndpointLogout    = "/API/Web/Logout"
	EndpointHeartbeat = "/API/Login/Heartbeat"

	// Long-poll event subscription
	EndpointEventCheck = "/API/Event/Check"

	// Device / channel metadata
	EndpointDeviceInfo   = "/API/Login/DeviceInfo/Get"
	EndpointChannelInfo  = "/API/Login/ChannelInfo/Get"
	EndpointSystemInfo   = "/API/SystemInfo/Base/Get"
	EndpointNetworkState = "/API/SystemInfo/Network/Get"
	EndpointRecordInfo   = "/API/SystemInfo/Record/Get"
	EndpointDateTime     = "/API/System/Date&Time/Get"

	// Storage / streams
	EndpointDiskGet   = "/API/StorageConfig/Disk/Get"
	EndpointStreamURL = "/API/Preview/StreamUrl/Get"
	EndpointSnapshot  = "/API/Snapshot/Get"

	// Alarm configuration (get/set pairs)
	EndpointMotionAlarm       = "/API/AlarmConfig/Motion/Get"
	EndpointMotionAlarmSet    = "/API/AlarmConfig/Motion/Set"
	EndpointIOAlarm           = "/API/AlarmConfig/IO/Get"
	EndpointIOAlarmSet        = "/API/AlarmConfig/IO/Set"
	EndpointExceptionAlarm    = "/API/AlarmConfig/Exception/Get"
	EndpointAlarmFD           = "/API/AlarmConfig/Intelligent/FD/Get"
	EndpointAlarmFDSet        = "/API/AlarmConfig/Intelligent/FD/Set"
	EndpointAlarmLCD          = "/API/AlarmConfig/Intelligent/LCD/Get"
	EndpointAlarmLCDSet       = "/API/AlarmConfig/Intelligent/LCD/Set"
	EndpointAlarmPID          = "/API/AlarmConfig/Intelligent/PID/Get"
	EndpointAlarmPIDSet       = "/API/AlarmConfig/Intelligent/PID/Set"
	EndpointAlarmSOD          = "/API/AlarmConfig/Intelligent/SOD/Get"
	EndpointAlarmSODSet       = "/API/AlarmConfig/Intelligent/SOD/Set"
	EndpointAlarmPD           = "/API/AlarmConfig/Intelligent/PD/Get"
	EndpointAlarmPDSet        = "/API/AlarmConfig/Intelligent/PD/Set"
	EndpointDisarming         = "/API/AlarmConfig/Disarming/Get"
	EndpointDisarmingSet      = "/API/AlarmConfig/Disarming/Set"
	EndpointEventPushConfig   = "/API/AlarmConfig/EventPush/Get"
	EndpointEventPushSet      = "/API/AlarmConfig/EventPush/Set"

	// Live control
	EndpointPTZControl     = "/API/PreviewChannel/PTZ/Control"
	EndpointManualAlarmSet = "/API/PreviewChannel/ManualAlarm/Set"

	// AI setup (per detection type; page_type=ChannelConfig returns the
	// per-channel enable switches)
	EndpointAISchedule       = "/API/AI/Setup/AISchedule/Get"
	EndpointAIFDSetup        = "/API/AI/Setup/FD/Get"
	EndpointAIPVDSetup       = "/API/AI/Setup/PVD/Get"
	EndpointAILCDSetup       = "/API/AI/Setup/LCD/Get"
	EndpointAIIntrusionSetup = "/API/AI/Setup/Intrusion/Get"
	EndpointAILPDSetup       = "/API/AI/Setup/LPD/Get"
	EndpointAIProcessAlarm   = "/API/AI/processAlarm/Get"
	EndpointAIModel          = "/API/AI/Model/Get"

	// AI search (two-step: Search returns a Count, GetByIndex pages results)
	EndpointAIFacesSearch       = "/API/AI/SnapedFaces/Search"
	EndpointAIFacesGetByIndex   = "/API/AI/SnapedFaces/GetByIndex"
	EndpointAIPlatesSearch      = "/API/AI/SnapedObjects/SearchPlate"
	EndpointAIObjectsGetByIndex = "/API/AI/SnapedObjects/GetByIndex"
	EndpointAIAddedPlatesGet    = "/API/AI/AddedPlates/GetById"
	EndpointAIFDGroups          = "/API/AI/FDGroup/Get"
	EndpointAIVhdCount          = "/API/AI/VhdLogCount/Get"
	EndpointAIVhdGetByIndex     = "/API/AI/VhdLog/GetByIndex"

	// Playback / maintenance
	EndpointRecordSearch = "/API/Playback/SearchRecord/Search"
	EndpointReboot       = "/API/Maintenance/DeviceReboot/Set"
)
