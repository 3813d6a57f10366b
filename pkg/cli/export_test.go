package cli

var ChooseUser = chooseUser
