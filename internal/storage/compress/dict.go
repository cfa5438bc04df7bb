package compress

// currentDict names the dictionary used for new blocks. Old names stay in
// presetDicts so existing blocks remain readable.
const currentDict = "v1"

// presetDicts holds DEFLATE preset dictionaries. Tokens that are most
// likely to appear go last, where back-references are shortest.
var presetDicts = map[string][]byte{
	"v1": []byte(`"skills":["` +
		`"hireDate":"` +
		`"phone":"` +
		`"email":"` +
		`"status":"on_leave"` +
		`"status":"inactive"` +
		`"status":"active"` +
		`{"version":1,"timestamp":` +
		`"metadata":{"exportedAt":` +
		`"persistenceMeta":{"source":"manual","createdAt":` +
		`"persistenceMeta":{"source":"batch","createdAt":` +
		`"persistenceMeta":{"source":"import","createdAt":` +
		`,"lastModified":` +
		`,"syncStatus":"local"}},` +
		`"position":"` +
		`"department":"` +
		`{"id":` +
		`,"name":"`),
}
