/*
Package api exposes the data room permission model over HTTP.

Routes, all under /api/v1 and all requiring an authenticated caller:

	GET    /{documents|folders}/{id}/permissions              effective set of the caller
	GET    /{documents|folders}/{id}/groups                   group grants (CanManage)
	PUT    /{documents|folders}/{id}/groups/{groupID}/permissions
	PUT    /{documents|folders}/{id}/users/{userID}/permissions
	DELETE /{documents|folders}/{id}/users/{userID}/permissions
	GET    /documents/{id}/download?type=pdf|encrypted|original
	GET    /documents/{id}/view
	POST   /folders/{id}/uploads?name=<file>
	POST   /datarooms/{roomID}/groups
	DELETE /groups/{groupID}
	GET    /groups/{groupID}/members
	PUT    /groups/{groupID}/members/{userID}
	DELETE /groups/{groupID}/members/{userID}

Grant writes require CanManage on the resource. Group and membership writes
require the CanManageDocumentPermissions capability in the group's data room,
which ADMINISTRATOR groups always carry. Every write invalidates the affected
cached resolutions and is recorded in the audit trail.

The download, view and upload routes only authorize: they answer 204 or 403
and log the access, or an access_denied audit entry.
*/
package api
